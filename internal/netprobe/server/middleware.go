package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"netprobe/pkg/logger"
)

// Adapter decorates an http.Handler
type Adapter func(http.Handler) http.Handler

// Adapt applies adapters so that the first one listed is the outermost
func Adapt(h http.Handler, adapters ...Adapter) http.Handler {
	for i := len(adapters) - 1; i >= 0; i-- {
		h = adapters[i](h)
	}
	return h
}

type ctxKey int

const (
	requestIDKey ctxKey = iota
	requestLoggerKey
)

const requestIDHeader = "X-Request-ID"

// requestLogger returns the logger attached to r by withRequestID
func requestLogger(r *http.Request) *logger.Logger {
	if l, ok := r.Context().Value(requestLoggerKey).(*logger.Logger); ok {
		return l
	}
	return logger.Default()
}

// RequestID returns the request's correlation ID, if any
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// withRequestID tags every request with an ID and a logger carrying it.
func withRequestID(base *logger.Logger) Adapter {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)

			ctx := context.WithValue(r.Context(), requestIDKey, id)
			ctx = context.WithValue(ctx, requestLoggerKey, base.WithField("requestId", id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// recoverPanic turns handler panics into a 500 so one request cannot take
// down the listener. http.ErrAbortHandler is re-raised to abort the response.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			requestLogger(r).Error("handler panic",
				"panic", fmt.Sprintf("%v", rec), "path", r.URL.Path, "stack", string(debug.Stack()))
			if !sw.wroteHeader {
				writeJSON(sw, http.StatusInternalServerError, errorBody{Error: "internal server error"})
			}
		}()
		next.ServeHTTP(sw, r)
	})
}

// noCache marks probe responses as uncacheable and unencoded.
func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
		h.Set("Content-Encoding", "identity")
		next.ServeHTTP(w, r)
	})
}

const unmatchedRoute = "unmatched"

// instrument records status and size of every routed request.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		// Raw paths would give every requested URL its own series.
		route := unmatchedRoute
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		next.ServeHTTP(sw, r)

		if s.metrics != nil {
			s.metrics.ObserveRequest(route, r.Method, sw.status)
		}
		requestLogger(r).Debug("request served",
			"method", r.Method, "route", route, "status", sw.status,
			"bytes", sw.written, "duration", time.Since(start))
	})
}

// statusWriter captures the status code while keeping Flush and Hijack reachable.
type statusWriter struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	w.wroteHeader = true
	return hj.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
