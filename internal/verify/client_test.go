package verify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mnuddindev/disasterlink/pkg/utils"
)

func TestVerifyScoresImage(t *testing.T) {
	var got verifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify_disaster" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"capture_validation":{"is_fresh_capture":true,"capture_confidence":0.9},
			"disaster_analysis":{"is_authentic":true,"authenticity_score":0.82,"status":"VERIFIED_AUTHENTIC"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	res, err := c.Verify(context.Background(), []byte("img"), map[string]string{"source": "camera"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Scored || res.Score != 0.82 || !res.IsAuthentic || !res.FreshCapture {
		t.Errorf("unexpected result %+v", res)
	}
	if got.Image != "aW1n" {
		t.Errorf("image not base64 encoded: %q", got.Image)
	}
	if got.Metadata["source"] != "camera" || got.Metadata["client_type"] == "" {
		t.Errorf("metadata not forwarded: %+v", got.Metadata)
	}
}

func TestVerifyNotFreshCapture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"success":false,"error":"IMAGE_NOT_FRESH_CAPTURE","message":"take a fresh photo"}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL).Verify(context.Background(), []byte("img"), nil)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Scored || res.FreshCapture {
		t.Errorf("gallery upload should not be scored: %+v", res)
	}
}

func TestVerifyServerErrorIsUpstreamUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"error":"PROCESSING_ERROR"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Verify(context.Background(), []byte("img"), nil)
	if !errors.Is(err, utils.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want upstream unavailable", err)
	}
}

func TestVerifyUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).Verify(context.Background(), []byte("img"), nil)
	if !errors.Is(err, utils.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want upstream unavailable", err)
	}
}

func TestDisabledClient(t *testing.T) {
	c := New("")
	if c.Enabled() {
		t.Fatal("empty URL should disable the client")
	}
	if _, err := c.Verify(context.Background(), nil, nil); !errors.Is(err, ErrDisabled) {
		t.Errorf("err = %v, want ErrDisabled", err)
	}
}

func TestLabel(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	tests := []struct {
		score *float64
		want  string
	}{
		{nil, "Not Processed"},
		{f(0.95), "Highly Authentic"},
		{f(0.8), "Highly Authentic"},
		{f(0.7), "Likely Authentic"},
		{f(0.6), "Likely Authentic"},
		{f(0.5), "Uncertain"},
		{f(0.1), "Likely Fake"},
	}
	for _, tt := range tests {
		if got := Label(tt.score); got != tt.want {
			t.Errorf("Label(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
	if !IsAuthentic(0.7) || IsAuthentic(0.69) {
		t.Error("authentic threshold must be inclusive at 0.7")
	}
}
