package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

const (
	headerCorrelationID = "X-Correlation-ID"
	headerRequestID     = "X-Request-ID"
	maxCorrelationIDLen = 128
)

// CorrelationID takes the caller's X-Correlation-ID (or X-Request-ID, as sent
// by most proxies in front of kiosks and display boards) and stores it on the
// request context. Missing or unusable values are replaced by a new UUID.
// The chosen ID is echoed in the response header.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerCorrelationID)
		if id == "" {
			id = r.Header.Get(headerRequestID)
		}
		if !usableID(id) {
			id = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), correlationIDKey, id)
		w.Header().Set(headerCorrelationID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// usableID accepts printable ASCII up to maxCorrelationIDLen so a header
// value can be copied into logs verbatim.
func usableID(id string) bool {
	if id == "" || len(id) > maxCorrelationIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// GetCorrelationID retrieves the correlation ID stored by the middleware.
// Returns an empty string if the middleware was not applied.
func GetCorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey).(string)
	return v
}

// CorrelationField is the zap field every request-scoped log line carries.
func CorrelationField(ctx context.Context) zap.Field {
	return zap.String("correlation_id", GetCorrelationID(ctx))
}
