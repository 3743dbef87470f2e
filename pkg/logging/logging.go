package logging

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger from GUARD_LOG_LEVEL and GUARD_LOG_PRETTY.
func New(app string) zerolog.Logger {
	return NewWithWriter(app, os.Stdout)
}

func NewWithWriter(app string, out io.Writer) zerolog.Logger {
	if os.Getenv("GUARD_LOG_PRETTY") == "1" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		Level(LevelFromEnv()).
		With().
		Timestamp().
		Str("app", app).
		Logger()
}

// LevelFromEnv defaults to info on empty or unknown values.
func LevelFromEnv() zerolog.Level {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv("GUARD_LOG_LEVEL")))
	if raw == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(raw)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// RequestLogger logs one line per request, at warn for 4xx and error for 5xx.
func RequestLogger(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		event := logger.Info()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Int("bytes", rec.bytes).
			Msg("http_request")
	})
}
