package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewGatewayClient_Defaults(t *testing.T) {
	client := NewGatewayClient("http://gw", "school", "key", "EDU", 0)
	if client.HTTPClient == nil {
		t.Fatal("HTTPClient should be set")
	}
	if client.HTTPClient.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", client.HTTPClient.Timeout, DefaultTimeout)
	}
}

func TestSendSMS_RequestFormat(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("Decode body: %v", err)
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := NewGatewayClient(server.URL, "school", "test-key", "EDU", time.Second)
	if err := client.SendSMS(context.Background(), "+15550001", "Your code is 123456"); err != nil {
		t.Fatalf("SendSMS: %v", err)
	}
	want := map[string]string{
		"username":  "school",
		"apiKey":    "test-key",
		"recipient": "+15550001",
		"message":   "Your code is 123456",
		"senderId":  "EDU",
	}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("%s = %v, want %q", k, body[k], v)
		}
	}
}

func TestSendSMS_ResponseHandling(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"explicit success", http.StatusOK, `{"success":true}`, false},
		{"200 without success field", http.StatusOK, `{"status":"queued"}`, false},
		{"200 non-json", http.StatusOK, `OK`, false},
		{"200 explicit failure", http.StatusOK, `{"success":false,"message":"bad number"}`, true},
		{"success on 202", http.StatusAccepted, `{"success":true}`, false},
		{"400", http.StatusBadRequest, `{"error":"invalid request"}`, true},
		{"500", http.StatusInternalServerError, `{"error":"server error"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := NewGatewayClient(server.URL, "u", "k", "", time.Second).
				SendSMS(context.Background(), "+15550001", "hi")
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSendSMS_ErrorIncludesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid request"}`))
	}))
	defer server.Close()

	err := NewGatewayClient(server.URL, "u", "k", "", time.Second).SendSMS(context.Background(), "1", "hi")
	if err == nil || !strings.Contains(err.Error(), "status=400") {
		t.Errorf("error = %v, want status=400", err)
	}
}

func TestSendSMS_MissingAPIKey(t *testing.T) {
	err := NewGatewayClient("http://unused", "u", "", "", 0).SendSMS(context.Background(), "1", "hi")
	if err == nil || !strings.Contains(err.Error(), "API key not configured") {
		t.Errorf("error = %v, want API key not configured", err)
	}
}

func TestSendSMS_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewGatewayClient(server.URL, "u", "k", "", 20*time.Millisecond)
	if err := client.SendSMS(context.Background(), "1", "hi"); err == nil {
		t.Fatal("expected timeout error")
	}
}
