package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/you-humble/linkassist/internal/domain"
	"github.com/you-humble/linkassist/internal/usecase"

	"github.com/google/uuid"
)

type Usecase interface {
	Submit(ctx context.Context, sessionID string, req usecase.Request) (domain.Message, error)
	SubmitAsync(sessionID string, req usecase.Request) error
	Messages(ctx context.Context, sessionID string) ([]domain.Message, error)
	SetView(sessionID, view string)
	CancelEffect(sessionID string) error
}

// Session ids end up in NATS subjects and Redis keys.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

type handler struct {
	maxUploadBytes int64
	usecase        Usecase
}

func NewHandler(maxUploadBytesMb int64, uc Usecase) *handler {
	return &handler{
		maxUploadBytes: maxUploadBytesMb << 20,
		usecase:        uc,
	}
}

type messageRequest struct {
	Input string `json:"input"`
}

type viewRequest struct {
	View string `json:"view"`
}

func (h *handler) postMessage(w http.ResponseWriter, r *http.Request) {
	sessionID, logger, ok := h.session(w, r, "post_message")
	if !ok {
		return
	}

	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	req, err := h.decodeRequest(r)
	if err != nil {
		logger.Warn("decode request", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Auth = headerAuth(r)

	if req.File != nil {
		logger = logger.With(slog.String("file_name", req.File.Name))
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if wait {
		msg, err := h.usecase.Submit(r.Context(), sessionID, req)
		if err != nil {
			h.submitFailed(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
		return
	}

	if err := h.usecase.SubmitAsync(sessionID, req); err != nil {
		h.submitFailed(w, logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, domain.SubmitResponse{SessionID: sessionID})
}

func (h *handler) submitFailed(w http.ResponseWriter, logger *slog.Logger, err error) {
	if errors.Is(err, domain.ErrSessionBusy) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	logger.Error("Submit usecase", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "cannot start task")
}

func (h *handler) listMessages(w http.ResponseWriter, r *http.Request) {
	sessionID, logger, ok := h.session(w, r, "list_messages")
	if !ok {
		return
	}

	msgs, err := h.usecase.Messages(r.Context(), sessionID)
	if err != nil {
		logger.Error("Messages usecase", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "")
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}

	writeJSON(w, http.StatusOK, msgs)
}

func (h *handler) setView(w http.ResponseWriter, r *http.Request) {
	sessionID, logger, ok := h.session(w, r, "set_view")
	if !ok {
		return
	}

	var req viewRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&req); err != nil {
		logger.Warn("decode view", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	h.usecase.SetView(sessionID, req.View)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) cancelEffect(w http.ResponseWriter, r *http.Request) {
	sessionID, _, ok := h.session(w, r, "cancel_effect")
	if !ok {
		return
	}

	if err := h.usecase.CancelEffect(sessionID); err != nil {
		if errors.Is(err, domain.ErrNoPendingEffect) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) session(w http.ResponseWriter, r *http.Request, name string) (string, *slog.Logger, bool) {
	sessionID := r.PathValue("id")
	logger := slog.With(
		slog.String("request_id", uuid.NewString()),
		slog.String("handler", name),
		slog.String("session_id", sessionID),
	)

	if !sessionIDPattern.MatchString(sessionID) {
		logger.Warn("invalid session id")
		writeError(w, http.StatusBadRequest, "invalid session id")
		return "", nil, false
	}

	return sessionID, logger, true
}

func (h *handler) decodeRequest(r *http.Request) (usecase.Request, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var req usecase.Request
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
			return req, errors.New("unable to parse multipart form")
		}
		req.Input = strings.TrimSpace(r.FormValue("input"))

		file, header, err := r.FormFile("file")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			return req, errors.New("unable to read field `file`")
		default:
			defer file.Close()
			// Async flows outlive the request, so the blob is buffered.
			data, err := io.ReadAll(file)
			if err != nil {
				return req, errors.New("unable to read field `file`")
			}
			req.File = &domain.Upload{
				Name:    header.Filename,
				Content: bytes.NewReader(data),
				Size:    int64(len(data)),
			}
		}
	} else {
		var body messageRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return req, errors.New("invalid json body")
		}
		req.Input = strings.TrimSpace(body.Input)
	}

	if req.Input == "" && req.File == nil {
		return req, errors.New("field `input` or `file` is required")
	}
	return req, nil
}

// headerAuth resolves the session's auth context from request headers.
func headerAuth(r *http.Request) domain.AuthContext {
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return domain.AuthContext{
		Token:     strings.TrimSpace(token),
		TeamID:    r.Header.Get("X-Team-Id"),
		ProjectID: r.Header.Get("X-Project-Id"),
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	resp := domain.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON", slog.String("error", err.Error()))
	}
}
