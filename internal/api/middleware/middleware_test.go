package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	apimw "github.com/ricirt/queue-system/internal/api/middleware"
)

func TestCorrelationID(t *testing.T) {
	cases := []struct {
		name   string
		header string
		value  string
		keep   bool
	}{
		{"caller id echoed", "X-Correlation-ID", "abc-123", true},
		{"request id accepted", "X-Request-ID", "proxy-7", true},
		{"missing generates", "", "", false},
		{"oversized replaced", "X-Correlation-ID", strings.Repeat("a", 200), false},
		{"control chars replaced", "X-Correlation-ID", "bad\tid", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			h := apimw.CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = apimw.GetCorrelationID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.NotEmpty(t, seen)
			assert.Equal(t, seen, rec.Header().Get("X-Correlation-ID"))
			if tc.keep {
				assert.Equal(t, tc.value, seen)
			} else {
				assert.NotEqual(t, tc.value, seen)
			}
		})
	}
}

func TestRequestLogger_RecordsRoute(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	r := chi.NewRouter()
	r.Use(apimw.CorrelationID)
	r.Use(apimw.RequestLogger(zap.New(core)))
	r.Get("/queues/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/queues/q1", nil)
	req.Header.Set("X-Correlation-ID", "trace-1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "/queues/{id}", fields["route"])
		assert.Equal(t, "trace-1", fields["correlation_id"])
		assert.EqualValues(t, http.StatusTeapot, fields["status"])
	}
}
