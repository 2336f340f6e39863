// Package handler exposes index events over HTTP for callers that do not
// publish to Kafka.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/logger"
)

const maxBodyBytes = 8 << 20

// ApplyFunc submits a validated event to its index.
type ApplyFunc func(ctx context.Context, ev ingestion.IndexEvent) (ingestion.Accepted, error)

type Handler struct {
	apply  ApplyFunc
	logger *slog.Logger
}

func New(apply ApplyFunc) *Handler {
	return &Handler{
		apply:  apply,
		logger: slog.Default().With("component", "ingestion-handler"),
	}
}

// Events accepts one IndexEvent per POST and answers 202 once it is queued.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var ev ingestion.IndexEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validator.ValidateIndexEvent(&ev); err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := logger.WithIndex(r.Context(), ev.Index)
	log := logger.FromContext(ctx)
	resp, err := h.apply(ctx, ev)
	if err != nil {
		status := statusCode(err)
		log.Error("index event rejected",
			"action", ev.Action,
			"error", err,
			"status_code", status,
		)
		h.writeError(w, status, err.Error())
		return
	}
	log.Info("index event accepted",
		"action", resp.Action,
		"operations", resp.Operations,
	)
	h.writeJSON(w, http.StatusAccepted, resp)
}

func statusCode(err error) int {
	switch apperrors.Classify(err) {
	case apperrors.KindData:
		return http.StatusBadRequest
	case apperrors.KindRejected:
		if apperrors.Is(err, apperrors.ErrNotExecutive) {
			return http.StatusMisdirectedRequest
		}
		return http.StatusServiceUnavailable
	case apperrors.KindTransient, apperrors.KindCoordination:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
