// Package inference is the serving side of a deployed model. It exposes the
// invocation interface the gateway and batch tooling call: GET /ping for
// liveness and POST /invocations for predictions.
package inference

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"headline-backend/internal/core"

	"github.com/go-chi/chi/v5"
)

type Server struct {
	model core.Model
}

func NewServer(model core.Model) *Server {
	return &Server{model: model}
}

func (s *Server) AddRoutes(r chi.Router) {
	r.Get("/ping", s.Ping)
	r.Post("/invocations", s.Invoke)
}

func (s *Server) Ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) Invoke(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Error("error reading invocation body", "error", err)
		http.Error(w, "unable to read request body", http.StatusBadRequest)
		return
	}

	input, err := core.ParseRequest(raw, r.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, err)
		return
	}

	prediction, err := core.Predict(r.Context(), s.model, input)
	if err != nil {
		slog.Error("error running inference", "error", err)
		http.Error(w, "inference failed", http.StatusInternalServerError)
		return
	}

	body, err := core.SerializeResponse(prediction, r.Header.Get("Accept"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		slog.Error("error writing invocation response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrUnsupportedContentType):
		http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
	case errors.Is(err, core.ErrUnsupportedAcceptType):
		http.Error(w, err.Error(), http.StatusNotAcceptable)
	case errors.Is(err, core.ErrEmptyInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, core.ErrUnknownCategory):
		// The served artifact produced a label outside the category set.
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}
