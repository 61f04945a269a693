package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/convograph/graph"
	"github.com/dshills/convograph/internal/app"
)

// MessageRequest is the body of POST /v1/threads and /messages.
type MessageRequest struct {
	Text string `json:"text" validate:"required,max=8000"`
}

// ResumeRequest is the body of POST /v1/threads/{id}/resume.
type ResumeRequest struct {
	Answer string `json:"answer" validate:"required,max=8000"`
}

type threadKey struct{}

// threadID validates the {threadID} path parameter.
func (s *Server) threadID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "threadID")
		if _, err := uuid.Parse(id); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid thread id")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), threadKey{}, id)))
	})
}

func threadFrom(r *http.Request) string {
	id, _ := r.Context().Value(threadKey{}).(string)
	return id
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) startThread(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if !s.decode(w, r, &req) {
		return
	}

	turn, err := s.svc.Start(r.Context(), req.Text)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, turn)
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if !s.decode(w, r, &req) {
		return
	}

	id := threadFrom(r)
	if _, err := s.svc.Get(r.Context(), id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	turn, err := s.svc.Post(r.Context(), id, req.Text)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, turn)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	var req ResumeRequest
	if !s.decode(w, r, &req) {
		return
	}

	id := threadFrom(r)
	if _, err := s.svc.Get(r.Context(), id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	turn, err := s.svc.Resume(r.Context(), id, req.Answer)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, turn)
}

func (s *Server) continueRun(w http.ResponseWriter, r *http.Request) {
	id := threadFrom(r)
	if _, err := s.svc.Get(r.Context(), id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	turn, err := s.svc.Continue(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, turn)
}

func (s *Server) getThread(w http.ResponseWriter, r *http.Request) {
	thread, err := s.svc.Get(r.Context(), threadFrom(r))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, thread)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	steps, err := s.svc.History(r.Context(), threadFrom(r))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, steps)
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	id := threadFrom(r)
	if _, err := s.svc.Get(r.Context(), id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.svc.Events(id))
}

func (s *Server) datasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.svc.Datasets(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, datasets)
}

func (s *Server) usage(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.svc.Usage())
}

// decode reads and validates a JSON body, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "validation error: "+formatValidationError(err))
		return false
	}
	return true
}

func formatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", field, e.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrThreadNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, graph.ErrThreadSuspended), errors.Is(err, graph.ErrInvalidResumeState),
		errors.Is(err, graph.ErrNothingToContinue):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.respondError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]any{
		"error":   http.StatusText(status),
		"message": message,
		"code":    status,
	})
}
