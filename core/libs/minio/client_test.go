package mio

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"no endpoint", Config{Bucket: "b"}, "empty endpoint"},
		{"no bucket", Config{Endpoint: "localhost:9000"}, "empty bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(context.Background(), tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("NewClient error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.setDefaults()
	if cfg.ConnectAttempts != defaultConnectAttempts || cfg.ConnectBackoff != defaultConnectBackoff {
		t.Errorf("defaults = %d, %s", cfg.ConnectAttempts, cfg.ConnectBackoff)
	}

	cfg = Config{ConnectAttempts: 2, ConnectBackoff: time.Millisecond}
	cfg.setDefaults()
	if cfg.ConnectAttempts != 2 || cfg.ConnectBackoff != time.Millisecond {
		t.Errorf("explicit values overwritten: %d, %s", cfg.ConnectAttempts, cfg.ConnectBackoff)
	}
}

func TestConnectRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := connect(context.Background(), 3, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not ready")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("connect = %v after %d calls", err, calls)
	}
}

func TestConnectGivesUp(t *testing.T) {
	errDown := errors.New("down")
	calls := 0
	err := connect(context.Background(), 2, time.Millisecond, func(context.Context) error {
		calls++
		return errDown
	})
	if !errors.Is(err, errDown) || calls != 2 {
		t.Errorf("connect = %v after %d calls", err, calls)
	}
}

func TestConnectStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := connect(ctx, 10, time.Hour, func(context.Context) error {
		calls++
		cancel()
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Errorf("connect = %v after %d calls", err, calls)
	}
}

func TestReadOnlyPolicy(t *testing.T) {
	raw, err := readOnlyPolicy("artifacts")
	if err != nil {
		t.Fatalf("readOnlyPolicy: %v", err)
	}

	var p bucketPolicy
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("policy is not JSON: %v", err)
	}
	if len(p.Statement) != 1 {
		t.Fatalf("statements = %+v", p.Statement)
	}
	st := p.Statement[0]
	if st.Effect != "Allow" || st.Action[0] != "s3:GetObject" || st.Resource[0] != "arn:aws:s3:::artifacts/*" {
		t.Errorf("statement = %+v", st)
	}
}
