package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Events(rec, req)
	return rec
}

func TestEventsAccepted(t *testing.T) {
	var got ingestion.IndexEvent
	h := New(func(_ context.Context, ev ingestion.IndexEvent) (ingestion.Accepted, error) {
		got = ev
		return ingestion.Accepted{Index: ev.Index, Action: ev.Action, Operations: len(ev.IDs), Executive: "host-a"}, nil
	})

	rec := post(h, `{"index":"products","action":"delete","ids":["1","2"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"1", "2"}, got.IDs)

	var resp ingestion.Accepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ingestion.Accepted{Index: "products", Action: ingestion.ActionDelete, Operations: 2, Executive: "host-a"}, resp)
}

func TestEventsRejectsBadInput(t *testing.T) {
	called := false
	h := New(func(context.Context, ingestion.IndexEvent) (ingestion.Accepted, error) {
		called = true
		return ingestion.Accepted{}, nil
	})

	rec := post(h, `{"index":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(h, `{"index":"products","action":"upsert"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation failed", body["error"])
	assert.Contains(t, body, "fields")

	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	rec = httptest.NewRecorder()
	h.Events(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, called)
}

func TestEventsMapsApplyErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not executive", apperrors.ErrNotExecutive, http.StatusMisdirectedRequest},
		{"shutting down", apperrors.ErrQueueClosed, http.StatusServiceUnavailable},
		{"queue full", apperrors.ErrQueueFull, http.StatusServiceUnavailable},
		{"unknown index", apperrors.Invalid("unknown index %q", "orders"), http.StatusBadRequest},
		{"writer", apperrors.Fatal("commit", assert.AnError), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(func(context.Context, ingestion.IndexEvent) (ingestion.Accepted, error) {
				return ingestion.Accepted{}, tt.err
			})
			rec := post(h, `{"index":"products","action":"delete","ids":["1"]}`)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
