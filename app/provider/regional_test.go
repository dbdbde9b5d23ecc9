package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func signRegionalPayload(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestRegionalInitializeEchoesReference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/initialize" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk_regional" {
			t.Errorf("missing bearer auth, got %q", r.Header.Get("Authorization"))
		}

		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["reference"] != "INV-10-abc" || body["email"] != "owner@roofing.example" {
			t.Errorf("unexpected request body: %v", body)
		}

		fmt.Fprint(w, `{"status":true,"message":"Authorization URL created","data":{"authorization_url":"https://checkout.example/abc","access_code":"ac_x","reference":"INV-10-abc"}}`)
	}))
	defer server.Close()

	p := NewRegionalProvider(RegionalConfig{SecretKey: "sk_regional", BaseURL: server.URL})
	output, err := p.Initialize(context.Background(), &InitializeInput{
		AmountMinor:   50000,
		CustomerEmail: "owner@roofing.example",
		Currency:      "GHS",
		Reference:     "INV-10-abc",
	})
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if output.ExternalReference != "INV-10-abc" {
		t.Fatalf("expected our reference echoed back, got %q", output.ExternalReference)
	}
	if output.AuthorizationURL == nil || *output.AuthorizationURL != "https://checkout.example/abc" {
		t.Fatalf("expected authorization url, got %v", output.AuthorizationURL)
	}
}

func TestRegionalVerifyMapsStatuses(t *testing.T) {
	cases := []struct {
		status    string
		succeeded bool
		failed    bool
	}{
		{"success", true, false},
		{"failed", false, true},
		{"abandoned", false, true},
		{"reversed", false, true},
		{"pending", false, false},
		{"ongoing", false, false},
	}

	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprintf(w, `{"status":true,"message":"Verification successful","data":{"reference":"INV-10-abc","amount":50000,"currency":"GHS","status":%q,"paid_at":"2026-08-01T10:00:00Z","channel":"mobile_money"}}`, tc.status)
			}))
			defer server.Close()

			p := NewRegionalProvider(RegionalConfig{SecretKey: "sk_regional", BaseURL: server.URL})
			result, err := p.Verify(context.Background(), "INV-10-abc")
			if err != nil {
				t.Fatalf("verify failed: %v", err)
			}
			if result.Succeeded != tc.succeeded || result.Failed != tc.failed {
				t.Fatalf("status %q: got succeeded=%t failed=%t", tc.status, result.Succeeded, result.Failed)
			}
		})
	}
}

func TestRegionalVerifySuccessCarriesPaidAtAndChannel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":true,"message":"ok","data":{"reference":"INV-10-abc","amount":50000,"currency":"ghs","status":"success","paid_at":"2026-08-01T10:00:00Z","channel":"mobile_money"}}`)
	}))
	defer server.Close()

	p := NewRegionalProvider(RegionalConfig{SecretKey: "sk_regional", BaseURL: server.URL})
	result, err := p.Verify(context.Background(), "INV-10-abc")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.PaidAt == nil {
		t.Fatal("expected paid_at")
	}
	if result.Channel != "mobile_money" || result.Currency != "GHS" {
		t.Fatalf("unexpected fields: %+v", result)
	}
}

func TestRegionalParseWebhookChargeSuccess(t *testing.T) {
	secret := "sk_regional"
	p := NewRegionalProvider(RegionalConfig{SecretKey: secret})

	payload := []byte(`{"event":"charge.success","data":{"reference":"INV-10-abc","amount":50000,"currency":"GHS","paid_at":"2026-08-01T10:00:00Z","channel":"mobile_money"}}`)
	event, err := p.ParseWebhook(payload, signRegionalPayload(secret, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if event.Type != EventChargeSucceeded || event.ExternalReference != "INV-10-abc" || event.AmountMinor != 50000 {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.PaidAt == nil {
		t.Fatal("expected paid_at")
	}
	if event.Metadata["channel"] != "mobile_money" {
		t.Fatalf("expected channel metadata, got %v", event.Metadata)
	}
}

func TestRegionalParseWebhookRejectsInvalidSignature(t *testing.T) {
	p := NewRegionalProvider(RegionalConfig{SecretKey: "sk_regional"})

	payload := []byte(`{"event":"charge.success","data":{"reference":"INV-10-abc"}}`)
	if _, err := p.ParseWebhook(payload, signRegionalPayload("wrong-secret", payload)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if _, err := p.ParseWebhook(payload, ""); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for empty header, got %v", err)
	}

	tampered := []byte(`{"event":"charge.success","data":{"reference":"INV-99-zzz"}}`)
	if _, err := p.ParseWebhook(tampered, signRegionalPayload("sk_regional", payload)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for tampered body, got %v", err)
	}
}

func TestRegionalParseWebhookRefundProcessed(t *testing.T) {
	secret := "sk_regional"
	p := NewRegionalProvider(RegionalConfig{SecretKey: secret})

	payload := []byte(`{"event":"refund.processed","data":{"id":302445,"transaction_reference":"INV-10-abc","amount":20000,"currency":"GHS"}}`)
	event, err := p.ParseWebhook(payload, signRegionalPayload(secret, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if event.Type != EventRefundProcessed || event.RefundID != "302445" || event.ExternalReference != "INV-10-abc" || event.AmountMinor != 20000 {
		t.Fatalf("unexpected refund event: %+v", event)
	}
}

func TestRegionalRefundParsesNumericID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/refund" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"status":true,"message":"Refund has been queued","data":{"id":302445,"amount":20000,"status":"pending"}}`)
	}))
	defer server.Close()

	p := NewRegionalProvider(RegionalConfig{SecretKey: "sk_regional", BaseURL: server.URL})
	amount := int64(20000)
	output, err := p.Refund(context.Background(), "INV-10-abc", &amount)
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if output.RefundID != "302445" || output.AmountMinor != 20000 {
		t.Fatalf("unexpected refund output: %+v", output)
	}
}

func TestRegionalErrorClassification(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		expected error
	}{
		{"not found", http.StatusNotFound, `{"status":false,"message":"Transaction not found"}`, ErrNotFound},
		{"already refunded", http.StatusBadRequest, `{"status":false,"message":"Transaction has been fully refunded"}`, ErrInvalidState},
		{"server error", http.StatusInternalServerError, `{"status":false,"message":"server"}`, ErrProviderUnavailable},
		{"bad key", http.StatusUnauthorized, `{"status":false,"message":"Invalid key"}`, ErrProviderUnavailable},
		{"declined body", http.StatusOK, `{"status":false,"message":"Invalid amount"}`, ErrInvalidRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer server.Close()

			p := NewRegionalProvider(RegionalConfig{SecretKey: "sk_regional", BaseURL: server.URL})
			_, err := p.Verify(context.Background(), "missing-ref")
			if !errors.Is(err, tc.expected) {
				t.Fatalf("expected %v, got %v", tc.expected, err)
			}
		})
	}
}
