package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/linnemanlabs/jarvis/internal/notify"
)

func TestSendPostsExpectedPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, true)
	err := n.Send(context.Background(), notify.Notification{
		Kind:        notify.KindSuccess,
		AlertName:   "ContainerDown",
		InstanceKey: "nexus:omada",
		Severity:    "critical",
		AttemptN:    1,
		MaxAttempts: 20,
		Commands:    []string{"docker restart omada"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got["kind"] != "success" {
		t.Errorf("kind = %v, want success", got["kind"])
	}
	if got["instance_key"] != "nexus:omada" {
		t.Errorf("instance_key = %v", got["instance_key"])
	}
}

func TestSendNoopWhenDisabled(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	n := New(srv.URL, false)
	if err := n.Send(context.Background(), notify.Notification{Kind: notify.KindSuccess}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if called {
		t.Error("expected no HTTP call when disabled")
	}
}

func TestSendNoopWhenURLEmpty(t *testing.T) {
	n := New("", true)
	if err := n.Send(context.Background(), notify.Notification{Kind: notify.KindSuccess}); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestSendErrorsOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(srv.URL, true)
	err := n.Send(context.Background(), notify.Notification{Kind: notify.KindFailure})
	if err == nil {
		t.Fatal("expected error on 500 response")
	}
}
