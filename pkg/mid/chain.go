// Package mid wraps the handler of a run's metrics endpoint.
package mid

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Middleware is a function that wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares left to right; the first one is outermost.
func Chain(h http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.status = http.StatusOK
		w.wrote = true
	}
	return w.ResponseWriter.Write(b)
}

// Observer receives every request served by the endpoint.
type Observer interface {
	Request(path, code string, d time.Duration)
}

// Observe reports each request to obs and logs it at debug level. Scrapes
// arrive every few seconds for the whole run.
func Observe(obs Observer, log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			d := time.Since(start)
			if obs != nil {
				obs.Request(r.URL.Path, strconv.Itoa(sw.status), d)
			}
			log.Debug("scrape", "path", r.URL.Path, "status", sw.status, "duration", d)
		})
	}
}

// Response headers naming the run behind the endpoint.
const (
	HeaderRun    = "X-Rollwin-Run"
	HeaderParams = "X-Rollwin-Params"
)

// Run stamps every response with the run name and params hash, so a scraper
// can tell two runs on the same port apart.
func Run(name, paramsHash string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if name != "" {
				w.Header().Set(HeaderRun, name)
			}
			if paramsHash != "" {
				w.Header().Set(HeaderParams, paramsHash)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Recover answers 500 when a handler panics.
func Recover(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("panic recovered", "path", r.URL.Path, "error", fmt.Sprintf("%v", err))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// OTel opens a span per request.
func OTel(operation string) Middleware {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, operation)
	}
}
