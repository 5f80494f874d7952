package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/replydesk/replydesk/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(nil, config.PlatformConfig{BaseURL: srv.URL, TimeoutSeconds: 5})
}

func TestClient_SendText(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("authorization = %q", got)
		}
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["type"] != "text" || req["text"] != "hello" || req["to"] != "+15550001111" {
			t.Errorf("unexpected body: %v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "wamid.out.9"})
	})

	id, err := client.SendText(context.Background(), "tok-1", "+15550001111", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "wamid.out.9" {
		t.Fatalf("message id = %q", id)
	}
}

func TestClient_SendTemplate(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["type"] != "template" || req["template_id"] != "tpl-1" {
			t.Errorf("unexpected body: %v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "wamid.out.10"})
	})

	id, err := client.SendTemplate(context.Background(), "tok", "+15550001111", "tpl-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "wamid.out.10" {
		t.Fatalf("message id = %q", id)
	}
}

func TestClient_SendSurfacesProviderError(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limited"})
	})

	_, err := client.SendText(context.Background(), "tok", "+1555", "x")
	if err == nil {
		t.Fatal("expected an error for a 429 response")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Fatalf("error should carry the status code for transient classification, got %v", err)
	}
}

func TestClient_CreateTemplateAndStatus(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/templates":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"template_id": "tpl-7", "status": "PENDING"})
		case r.Method == http.MethodGet && r.URL.Path == "/templates/tpl-7":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"template_id": "tpl-7", "status": "APPROVED"})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	id, err := client.CreateTemplate(context.Background(), "tok", "welcome", "Hello there")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "tpl-7" {
		t.Fatalf("template id = %q", id)
	}

	status, err := client.TemplateStatus(context.Background(), "tok", "tpl-7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != "APPROVED" {
		t.Fatalf("status = %q", status)
	}
}
