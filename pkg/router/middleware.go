package router

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"net/http"
	"outreach/pkg/logutil"
	"time"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Log tags the request context with a log_id and logs one line per request.
// The server's BaseContext is expected to carry the logger.
func Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			start = time.Now()
			ctx   = logutil.WithLogID(r.Context(), uuid.New().String())
			rec   = &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		)

		next.ServeHTTP(rec, r.WithContext(ctx))

		log.Ctx(ctx).Info().Msgf("%s %s, status: %d, proctm: %vμs",
			r.Method, r.URL.Path, rec.status, time.Since(start).Microseconds())
	})
}
