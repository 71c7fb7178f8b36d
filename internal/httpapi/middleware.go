package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flarenet/ftso-feed-provider/internal/ratelimit"
)

type contextKey int

const requestIDKey contextKey = iota

// requestIDFrom reads the request id middleware attached to ctx, or
// "unknown" if none is present (e.g. in a handler unit test that builds its
// own context).
func requestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return "unknown"
}

// requestIDMiddleware stamps every request with a short correlation id.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// responseWrapper captures the status code so logging middleware can report
// it after the handler runs.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs each request's method, path, status, and duration
// via zerolog, and feeds the metrics registry's request/response counters.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.metrics.RecordRequest(r.Method, r.URL.Path)

		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		elapsed := time.Since(start)
		s.metrics.RecordResponse(statusClass(wrapper.statusCode), r.URL.Path, elapsed)
		s.monitor.RecordResponseTime(elapsed)
		if wrapper.statusCode >= 400 {
			s.metrics.RecordError(statusClass(wrapper.statusCode))
		}

		s.log.Info().
			Str("request_id", requestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", elapsed).
			Str("remote_addr", r.RemoteAddr).
			Msg("request served")
	})
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

// timeoutMiddleware enforces a per-request deadline, cancelled cooperatively
// by every downstream blocking call.
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware allows cross-origin reads from any origin; this surface is
// read-mostly JSON with no cookie-based auth, so a permissive policy carries
// no CSRF exposure.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Client-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// jsonContentTypeMiddleware sets the response content type for every API
// route; POST bodies are separately required to declare it on the way in.
func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requireJSONBody rejects POST requests that don't declare a JSON body.
func requireJSONBody(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			writeError(w, r, http.StatusBadRequest, "invalid_content_type", "Content-Type: application/json is required")
			return
		}
		next(w, r)
	}
}

// rateLimitMiddleware admits requests through the limiter, decorating 429s
// with rate-limit and client info.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := ratelimit.ClientIdentity(r)
		result := s.limiter.Admit(clientID)
		if !result.Allowed {
			retryAfter := (result.MsBeforeNext + 999) / 1000
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			info := &RateLimitInfo{
				Limit:             s.limiterCfg.MaxRequests,
				WindowMs:          s.limiterCfg.WindowMs,
				TotalHits:         result.TotalHits,
				TotalHitsInWindow: result.TotalHits,
				RetryAfterSeconds: retryAfter,
				ResetTime:         time.Now().Add(time.Duration(result.MsBeforeNext) * time.Millisecond).Unix(),
			}
			client := &ClientInfo{ClientId: clientID, Method: r.Method, URL: r.URL.String()}
			writeErrorWithExtras(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests", info, client)
			return
		}
		next.ServeHTTP(w, r)
	})
}
