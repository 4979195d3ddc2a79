package util

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveRequestID(t *testing.T, incoming string) (ctxID, headerID string) {
	t.Helper()
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	if incoming != "" {
		req.Header.Set("X-Request-Id", incoming)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return ctxID, rec.Header().Get("X-Request-Id")
}

func TestWithRequestIDKeepsWellFormedIncomingID(t *testing.T) {
	const incoming = "persona-api:req.42_a"
	ctxID, headerID := serveRequestID(t, incoming)
	if ctxID != incoming || headerID != incoming {
		t.Fatalf("expected %q in context and header, got %q / %q", incoming, ctxID, headerID)
	}
}

func TestWithRequestIDReplacesMissingOrMalformedID(t *testing.T) {
	cases := map[string]string{
		"missing":   "",
		"spaces":    "two words",
		"newline":   "abc\ninjected",
		"too long":  strings.Repeat("a", maxRequestIDLen+1),
		"non-ascii": "réq",
	}
	for name, incoming := range cases {
		t.Run(name, func(t *testing.T) {
			ctxID, headerID := serveRequestID(t, incoming)
			if ctxID == "" || ctxID == incoming {
				t.Fatalf("expected a generated id, got %q", ctxID)
			}
			if headerID != ctxID {
				t.Fatalf("header %q does not match context %q", headerID, ctxID)
			}
		})
	}
}

func TestRequestIDFromContextWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := RequestIDFromContext(req.Context()); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}
