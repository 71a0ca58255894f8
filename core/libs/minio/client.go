package mio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	defaultConnectAttempts = 5
	defaultConnectBackoff  = time.Second
	maxConnectBackoff      = 30 * time.Second
)

type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	// PublicRead grants anonymous GetObject on the bucket so object URLs
	// can be handed out directly.
	PublicRead bool

	// ConnectAttempts bounds the bucket setup at startup. Each failed
	// attempt waits twice as long as the previous one, starting at
	// ConnectBackoff.
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

func (cfg Config) validate() error {
	switch {
	case cfg.Endpoint == "":
		return errors.New("minio: empty endpoint")
	case cfg.Bucket == "":
		return errors.New("minio: empty bucket")
	}
	return nil
}

func (cfg *Config) setDefaults() {
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = defaultConnectAttempts
	}
	if cfg.ConnectBackoff <= 0 {
		cfg.ConnectBackoff = defaultConnectBackoff
	}
}

// NewClient builds a client and makes sure the bucket exists and carries the
// configured policy.
func NewClient(ctx context.Context, cfg Config) (*minio.Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: new client %s: %w", cfg.Endpoint, err)
	}

	err = connect(ctx, cfg.ConnectAttempts, cfg.ConnectBackoff, func(ctx context.Context) error {
		return setupBucket(ctx, client, cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("minio: bucket %s: %w", cfg.Bucket, err)
	}
	return client, nil
}

// connect runs op until it succeeds, attempts are spent or ctx is done.
func connect(ctx context.Context, attempts int, backoff time.Duration, op func(context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if attempt >= attempts {
			return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-timer.C:
		}
		backoff = min(2*backoff, maxConnectBackoff)
	}
}

func setupBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if !exists {
		err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region})
		// Another replica may have created it in between.
		if err != nil && minio.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
			return fmt.Errorf("create: %w", err)
		}
	}

	if !cfg.PublicRead {
		return nil
	}
	policy, err := readOnlyPolicy(cfg.Bucket)
	if err != nil {
		return err
	}
	if err := client.SetBucketPolicy(ctx, cfg.Bucket, policy); err != nil {
		return fmt.Errorf("set policy: %w", err)
	}
	return nil
}

type bucketPolicy struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Effect    string              `json:"Effect"`
	Principal map[string][]string `json:"Principal"`
	Action    []string            `json:"Action"`
	Resource  []string            `json:"Resource"`
}

// readOnlyPolicy allows anonymous reads of every object in bucket.
func readOnlyPolicy(bucket string) (string, error) {
	data, err := json.Marshal(bucketPolicy{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: map[string][]string{"AWS": {"*"}},
			Action:    []string{"s3:GetObject"},
			Resource:  []string{"arn:aws:s3:::" + bucket + "/*"},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("encode policy: %w", err)
	}
	return string(data), nil
}
