package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"autoforwardx/internal/constants"
	"autoforwardx/internal/privacy"
	"autoforwardx/internal/tracing"

	"github.com/sirupsen/logrus"
)

// DetailedLoggingConfig controls the debug request dump.
type DetailedLoggingConfig struct {
	LogRequestHeaders bool
	LogRequestBody    bool
	MaxBodySize       int
	SensitiveHeaders  []string
	SkipPaths         []string
}

func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogRequestHeaders: true,
		LogRequestBody:    true,
		MaxBodySize:       4096,
		SensitiveHeaders:  []string{"authorization", "cookie", "x-api-key"},
		SkipPaths:         []string{"/metrics", "/health", "/api/v1/events"},
	}
}

// DetailedLoggingMiddleware dumps request headers and JSON bodies at debug
// level. Credentials and chat ids in the body are masked before logging.
func DetailedLoggingMiddleware(logger *logrus.Logger, config DetailedLoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.IsLevelEnabled(logrus.DebugLevel) || skipPath(r.URL.Path, config.SkipPaths) {
				next.ServeHTTP(w, r)
				return
			}

			fields := logrus.Fields{
				constants.LogFieldRequestID: tracing.GetRequestID(r.Context()),
				"method":                    r.Method,
				"url":                       r.URL.String(),
				"protocol":                  r.Proto,
				"content_length":            r.ContentLength,
			}
			if config.LogRequestHeaders {
				fields["request_headers"] = maskHeaders(r.Header, config.SensitiveHeaders)
			}
			if config.LogRequestBody && strings.Contains(r.Header.Get("Content-Type"), "json") &&
				r.ContentLength > 0 && r.ContentLength <= int64(config.MaxBodySize) {
				body, err := io.ReadAll(r.Body)
				if err == nil {
					r.Body = io.NopCloser(bytes.NewReader(body))
					fields["request_body"] = maskBody(body)
				}
			}
			logger.WithFields(fields).Debug("Detailed request logging")

			next.ServeHTTP(w, r)
		})
	}
}

func skipPath(path string, skip []string) bool {
	for _, p := range skip {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func maskHeaders(header http.Header, sensitive []string) map[string]string {
	out := make(map[string]string, len(header))
	for name, values := range header {
		if isSensitiveHeader(name, sensitive) {
			out[name] = "***MASKED***"
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func isSensitiveHeader(name string, sensitive []string) bool {
	for _, s := range sensitive {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// maskBody masks top-level sensitive keys of a JSON object. Anything that is
// not an object is logged only by size.
func maskBody(body []byte) interface{} {
	var obj map[string]interface{}
	if err := json.Unmarshal(body, &obj); err != nil {
		return map[string]int{"bytes": len(body)}
	}
	return privacy.MaskSensitiveFields(obj)
}
