package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// captureLogger swaps the global logger for a buffer of plain JSON lines.
func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.POST("/requests", func(c *gin.Context) {
		if v, ok := c.Get(requestIDKey); !ok || v == "" {
			t.Fatalf("request id missing from context")
		}
		c.Status(http.StatusCreated)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/requests", nil))
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected a generated %s header", requestIDHeader)
	}
}

func TestRequestID_PropagatesCallerValue(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.POST("/requests", func(c *gin.Context) {
		if v, _ := c.Get(requestIDKey); v != "gw-77f2" {
			t.Fatalf("context request id = %v; want gw-77f2", v)
		}
		c.Status(http.StatusCreated)
	})

	// Canonical and lowercase header spellings both propagate.
	for _, header := range []string{requestIDHeader, strings.ToLower(requestIDHeader)} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/requests", nil)
		req.Header.Set(header, "gw-77f2")
		r.ServeHTTP(w, req)
		if got := w.Header().Get(requestIDHeader); got != "gw-77f2" {
			t.Fatalf("response %s = %q; want gw-77f2", requestIDHeader, got)
		}
	}
}

func TestLogger_LevelsChatIDAndPathFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(Logger())

	r.DELETE("/conversations/:chat_id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/broken", func(c *gin.Context) {
		_ = c.Error(errSentinel{})
		c.Status(http.StatusBadRequest)
	})

	// 200 on a chat-addressed route: info, route pattern, chat id field.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/conversations/42", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("DELETE /conversations/42 -> %d", w.Code)
	}

	// Unrouted: 404 logs at warn with the raw URL path.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /missing -> %d", w.Code)
	}

	// A gin error on the context forces error level regardless of status.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/broken", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("GET /broken -> %d", w.Code)
	}

	logs := buf.String()
	if !strings.Contains(logs, `"level":"info"`) || !strings.Contains(logs, `"path":"/conversations/:chat_id"`) {
		t.Fatalf("expected info log with the route pattern, got:\n%s", logs)
	}
	if !strings.Contains(logs, `"chat_id":"42"`) {
		t.Fatalf("expected the chat id in the access log, got:\n%s", logs)
	}
	if !strings.Contains(logs, `"level":"warn"`) || !strings.Contains(logs, `"path":"/missing"`) {
		t.Fatalf("expected warn log with raw path fallback, got:\n%s", logs)
	}
	if !strings.Contains(logs, `"level":"error"`) {
		t.Fatalf("expected error log, got:\n%s", logs)
	}
}

type errSentinel struct{}

func (errSentinel) Error() string { return "boom" }

func TestRecovery_PanicBecomesJSON500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(Logger())
	r.Use(Recovery())
	r.POST("/conversations", func(c *gin.Context) { panic("wedged store handle") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/conversations", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("500 body not JSON: %v", err)
	}
	if body["code"] != "internal_error" || body["message"] != "internal server error" {
		t.Fatalf("unexpected 500 body: %v", body)
	}
	if rid, _ := body["request_id"].(string); rid == "" {
		t.Fatalf("500 body lacks the correlation id: %v", body)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Fatalf("expected panic log, got:\n%s", buf.String())
	}
}

func TestRecovery_PanicAfterWriteSkipsJSONBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(Logger())
	r.Use(Recovery())

	// The response has already gone out; Recovery must not append a JSON
	// error body on top of it.
	r.GET("/requests", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("late fault")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requests", nil))

	if strings.Contains(w.Body.String(), "internal server error") ||
		strings.Contains(strings.ToLower(w.Header().Get("Content-Type")), "application/json") {
		t.Fatalf("JSON error written after body: CT=%q body=%q",
			w.Header().Get("Content-Type"), w.Body.String())
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Fatalf("expected panic log, got:\n%s", buf.String())
	}
}

func TestLoggerFrom(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// Without Logger() the fallback carries no request fields.
	buf := captureLogger(t)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/requests", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("bare")
		c.Status(http.StatusOK)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requests", nil))
	if !strings.Contains(buf.String(), `"message":"bare"`) {
		t.Fatalf("fallback logger lost the message:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), `"request_id"`) {
		t.Fatalf("fallback logger should carry no request fields:\n%s", buf.String())
	}

	// With Logger() the request-scoped logger carries the correlation id.
	buf = captureLogger(t)
	r = gin.New()
	r.Use(RequestID())
	r.Use(Logger())
	r.GET("/requests", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("scoped")
		c.Status(http.StatusOK)
	})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requests", nil))
	out := buf.String()
	if !strings.Contains(out, `"message":"scoped"`) || !strings.Contains(out, `"request_id"`) {
		t.Fatalf("request-scoped logger missing fields:\n%s", out)
	}
}

func TestLogHelpers(t *testing.T) {
	if asString("rid") != "rid" || asString(7) != "" || asString(nil) != "" {
		t.Fatalf("asString misbehaves")
	}
	if truncate("chat_id=42", 100) != "chat_id=42" {
		t.Fatalf("truncate must pass short strings through")
	}
	if got := truncate("abcdefgh", 5); got != "abcde…" {
		t.Fatalf("truncate = %q; want abcde…", got)
	}
	if truncate("abc", 0) != "abc" {
		t.Fatalf("max <= 0 must disable truncation")
	}
}
