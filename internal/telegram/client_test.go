package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSendMessage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot123:abc/sendMessage" {
			t.Fatalf("path=%s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Fatalf("content-type=%s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "123:abc", time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.SendMessage(context.Background(), 42, "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got["chat_id"].(float64) != 42 || got["text"] != "hello" {
		t.Errorf("body = %v", got)
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":7}}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "123:abc", time.Second)
	err := c.SendMessage(context.Background(), 1, "x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Code != 429 || apiErr.RetryAfter != 7*time.Second {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestSetWebhookSendsSecret(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot123:abc/setWebhook" {
			t.Fatalf("path=%s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "123:abc", time.Second)
	if err := c.SetWebhook(context.Background(), "https://pinbook.example/api/telegram/webhook", "s3cret"); err != nil {
		t.Fatalf("SetWebhook: %v", err)
	}
	if got["secret_token"] != "s3cret" || got["url"] != "https://pinbook.example/api/telegram/webhook" {
		t.Errorf("body = %v", got)
	}
}

func TestTransportErrorHidesToken(t *testing.T) {
	c, _ := NewClient("http://127.0.0.1:1", "123:secret-token", 200*time.Millisecond)
	err := c.SendMessage(context.Background(), 1, "x")
	if err == nil {
		t.Fatal("expected an error")
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Errorf("error leaks token: %v", err)
	}
}
