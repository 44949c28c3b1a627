package api

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func echoBody(c echo.Context) error {
	b, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	return c.String(http.StatusOK, string(b))
}

func TestGzipRequestMiddleware(t *testing.T) {
	e := echo.New()
	e.Use(GzipRequestMiddleware())
	e.POST("/", echoBody)

	tests := []struct {
		name     string
		body     []byte
		encoding string
		code     int
		want     string
	}{
		{name: "plain", body: []byte(`{"text":"a"}`), code: http.StatusOK, want: `{"text":"a"}`},
		{name: "gzip", body: gzipBytes(t, `{"text":"b"}`), encoding: "gzip", code: http.StatusOK, want: `{"text":"b"}`},
		{name: "listed", body: gzipBytes(t, `{"text":"c"}`), encoding: "identity, GZIP", code: http.StatusOK, want: `{"text":"c"}`},
		{name: "corrupt", body: []byte("not gzip"), encoding: "gzip", code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(tt.body))
			if tt.encoding != "" {
				req.Header.Set(echo.HeaderContentEncoding, tt.encoding)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, rec.Code)
			}
			if tt.want != "" && rec.Body.String() != tt.want {
				t.Fatalf("unexpected body %q", rec.Body.String())
			}
		})
	}
}

func TestRedisDeduperAddRemove(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	d := NewRedisDeduper(client, time.Minute)
	ctx := t.Context()

	if added, err := d.Add(ctx, "u1", "k"); err != nil || !added {
		t.Fatalf("first add = %v, %v", added, err)
	}
	if added, _ := d.Add(ctx, "u1", "k"); added {
		t.Fatalf("second add should report a duplicate")
	}
	if added, _ := d.Add(ctx, "u2", "k"); !added {
		t.Fatalf("keys must be namespaced per user")
	}
	if ttl := m.TTL("idem:u1:k"); ttl != time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
	if err := d.Remove(ctx, "u1", "k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if added, _ := d.Add(ctx, "u1", "k"); !added {
		t.Fatalf("removed key should be accepted again")
	}
	if !strings.HasPrefix(d.key("u", "x"), idempotencyPrefix) {
		t.Fatalf("unexpected key %q", d.key("u", "x"))
	}
}
