package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestWithAttrsCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "production")

	ctx := WithAttrs(With(context.Background(), l), "user_id", "u-1")
	From(ctx).Info("purchase")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line["user_id"] != "u-1" || line["service"] != "vtu-platform" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestMiddlewarePropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "production")

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/x", func(c *gin.Context) {
		From(c.Request.Context()).Info("inside")
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "rid-123")
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-Id"); got != "rid-123" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
	first, _, _ := bytes.Cut(buf.Bytes(), []byte("\n"))
	var line map[string]any
	if err := json.Unmarshal(first, &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line["msg"] != "inside" || line["request_id"] != "rid-123" {
		t.Fatalf("expected handler log to carry request id, got %v", line)
	}
}
