package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tenantdesk/exojobs/infrastructure/service/logger"
)

const CorrelationIDHeader = "X-Correlation-ID"

// maxCorrelationIDLength bounds ids accepted from clients
const maxCorrelationIDLength = 128

// CorrelationIDMiddleware ensures every request/response carries a correlation ID
// and makes it available to the logger through the request context.
func CorrelationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(CorrelationIDHeader)
		if cid == "" || len(cid) > maxCorrelationIDLength {
			cid = uuid.NewString()
		}
		w.Header().Set(CorrelationIDHeader, cid)

		ctx := logger.WithCorrelationID(r.Context(), cid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
