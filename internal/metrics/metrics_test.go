package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/models/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, id := range []string{"a1", "b2", "c3"} {
		req := httptest.NewRequest(http.MethodGet, "/models/"+id, nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	// All three requests collapse into the one pattern label.
	got := testutil.ToFloat64(RequestsTotal.WithLabelValues("GET", "/models/{id}", "200"))
	assert.Equal(t, 3.0, got)
	assert.Zero(t, testutil.ToFloat64(RequestsTotal.WithLabelValues("GET", "/models/a1", "200")))
}

func TestMiddlewareFallsBackToURLPathWithoutRouter(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/bare", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	got := testutil.ToFloat64(RequestsTotal.WithLabelValues("GET", "/bare", "404"))
	assert.Equal(t, 1.0, got)
}

func TestStatusWriterRecordsExplicitStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, status: http.StatusOK}
	sw.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusTeapot, sw.status)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
