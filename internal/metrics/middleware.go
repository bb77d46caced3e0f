package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// errorClasses maps specific API statuses to the error label
var errorClasses = map[int]string{
	http.StatusBadRequest:   "bad_request",
	http.StatusUnauthorized: "auth_error",
	http.StatusForbidden:    "auth_error",
	http.StatusNotFound:     "not_found",
	http.StatusConflict:     "conflict",
}

// HTTPMiddleware records request count, latency and error class for every
// API call. It is a no-op until SetGlobal has been called.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := Global()
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		route := routeLabel(r)

		m.APIRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(code)).Inc()
		m.APIRequestDurationSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		if code >= http.StatusBadRequest {
			m.APIErrorsTotal.WithLabelValues(errorClass(code)).Inc()
		}
	})
}

// routeLabel returns the chi route pattern once the router has matched.
// Outside a router, contact uids in the raw path collapse to {uid}.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	segments := strings.Split(r.URL.Path, "/")
	for i, seg := range segments {
		if _, err := strconv.ParseUint(seg, 10, 64); err == nil {
			segments[i] = "{uid}"
		}
	}
	return strings.Join(segments, "/")
}

func errorClass(code int) string {
	if class, ok := errorClasses[code]; ok {
		return class
	}
	switch {
	case code >= http.StatusInternalServerError:
		return "server_error"
	case code >= http.StatusBadRequest:
		return "client_error"
	}
	return "unknown"
}
