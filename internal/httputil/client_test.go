package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetSendsHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := Get(context.Background(), srv.Client(), Request{
		URL:     srv.URL + "/seg.ts",
		Referer: "https://site.test/play/1.html",
		Range:   "bytes=0-99",
	})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	tests := map[string]string{
		"User-Agent": DefaultUserAgent,
		"Accept":     "*/*",
		"Referer":    "https://site.test/play/1.html",
		"Range":      "bytes=0-99",
	}
	for header, want := range tests {
		if v := got.Get(header); v != want {
			t.Errorf("%s = %q, want %q", header, v, want)
		}
	}
}

func TestGetStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Get(context.Background(), srv.Client(), Request{URL: srv.URL})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.Code != http.StatusNotFound {
		t.Errorf("Code = %d, want 404", se.Code)
	}
}

func TestGetRejectsBadScheme(t *testing.T) {
	if _, err := Get(context.Background(), http.DefaultClient, Request{URL: "file:///etc/passwd"}); err == nil {
		t.Error("expected error for file:// URL")
	}
}

func TestStatusErrorTemporary(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{500, true},
		{503, true},
		{408, true},
		{429, true},
		{404, false},
		{403, false},
	}
	for _, tt := range tests {
		if got := (&StatusError{Code: tt.code}).Temporary(); got != tt.want {
			t.Errorf("Temporary(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
