package mail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSend_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v3/mail/send" {
			t.Fatalf("path = %s, want /v3/mail/send", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer mail-key" {
			t.Fatalf("authorization = %q", got)
		}

		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(req.Personalizations) != 1 || len(req.Personalizations[0].To) != 1 {
			t.Fatalf("unexpected personalizations: %+v", req.Personalizations)
		}
		if req.Personalizations[0].To[0].Email != "buyer@x.com" {
			t.Fatalf("recipient = %q", req.Personalizations[0].To[0].Email)
		}
		if req.From.Email != "noreply@ittrkart.example" {
			t.Fatalf("sender = %q", req.From.Email)
		}
		if req.Subject != "IttrKart | Reset Password" {
			t.Fatalf("subject = %q", req.Subject)
		}

		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "mail-key", "noreply@ittrkart.example")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.Send(ctx, "buyer@x.com", "IttrKart | Reset Password", "<p>hi</p>"); err != nil {
		t.Fatalf("Send error: %v", err)
	}
}

func TestSend_RetriesOnServerError(t *testing.T) {
	var calls atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "temporary", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "mail-key", "noreply@ittrkart.example")

	if err := client.Send(context.Background(), "buyer@x.com", "subj", "<p>hi</p>"); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if calls.Load() < 2 {
		t.Fatalf("calls = %d, want at least 2", calls.Load())
	}
}

func TestSend_RejectedRequest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "mail-key", "noreply@ittrkart.example")

	if err := client.Send(context.Background(), "buyer@x.com", "subj", "<p>hi</p>"); err == nil {
		t.Fatalf("expected error on rejected request")
	}
}

func TestSend_NotConfigured(t *testing.T) {
	var client *Client

	if err := client.Send(context.Background(), "a@x.com", "s", "b"); err == nil {
		t.Fatalf("expected error for unconfigured client")
	}
}
