package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roofmanager/ms-go-payments/app/types"
)

const cardSignatureHeader = "Stripe-Signature"

type CardConfig struct {
	SecretKey                 string
	WebhookSecret             string
	BaseURL                   string
	SignatureToleranceSeconds int64
	HTTPTimeout               time.Duration
}

// CardProvider talks to the global card processor's REST API directly. It
// creates payment intents, polls them, and refunds through the refunds
// endpoint.
type CardProvider struct {
	cfg    CardConfig
	client *http.Client
}

func NewCardProvider(cfg CardConfig) *CardProvider {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cfg.SignatureToleranceSeconds <= 0 {
		cfg.SignatureToleranceSeconds = 300
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.stripe.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &CardProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *CardProvider) ID() types.ProviderID {
	return types.ProviderCard
}

func (p *CardProvider) SignatureHeader() string {
	return cardSignatureHeader
}

func (p *CardProvider) Initialize(ctx context.Context, input *InitializeInput) (*InitializeOutput, error) {
	if input.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be > 0", ErrInvalidRequest)
	}
	if strings.TrimSpace(input.CustomerEmail) == "" {
		return nil, fmt.Errorf("%w: customer email is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(p.cfg.SecretKey) == "" {
		return nil, fmt.Errorf("%w: card provider secret key is not configured", ErrProviderUnavailable)
	}

	values := url.Values{}
	values.Set("amount", strconv.FormatInt(input.AmountMinor, 10))
	values.Set("currency", strings.ToLower(input.Currency))
	values.Set("receipt_email", strings.TrimSpace(input.CustomerEmail))
	values.Set("automatic_payment_methods[enabled]", "true")
	for k, v := range input.Metadata {
		values.Set("metadata["+k+"]", v)
	}
	values.Set("metadata[reference]", input.Reference)

	body, err := p.postForm(ctx, "/v1/payment_intents", values)
	if err != nil {
		return nil, err
	}

	var payload struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decoding payment intent: %v", ErrProviderUnavailable, err)
	}
	if strings.TrimSpace(payload.ID) == "" {
		return nil, fmt.Errorf("%w: payment intent id missing", ErrProviderUnavailable)
	}

	result := &InitializeOutput{ExternalReference: payload.ID}
	if s := strings.TrimSpace(payload.ClientSecret); s != "" {
		result.ClientSecret = &s
	}
	return result, nil
}

func (p *CardProvider) Verify(ctx context.Context, externalReference string) (*VerifyResult, error) {
	body, err := p.get(ctx, "/v1/payment_intents/"+url.PathEscape(externalReference))
	if err != nil {
		return nil, err
	}

	var payload struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Status   string `json:"status"`
		Created  int64  `json:"created"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decoding payment intent: %v", ErrProviderUnavailable, err)
	}

	result := &VerifyResult{
		AmountMinor: payload.Amount,
		Currency:    strings.ToUpper(payload.Currency),
		Channel:     "card",
		RawStatus:   payload.Status,
	}
	switch payload.Status {
	case "succeeded":
		result.Succeeded = true
		if payload.Created > 0 {
			paidAt := time.Unix(payload.Created, 0).UTC()
			result.PaidAt = &paidAt
		}
	case "canceled":
		result.Failed = true
	}
	return result, nil
}

func (p *CardProvider) Refund(ctx context.Context, externalReference string, amountMinor *int64) (*RefundOutput, error) {
	values := url.Values{}
	values.Set("payment_intent", externalReference)
	if amountMinor != nil {
		values.Set("amount", strconv.FormatInt(*amountMinor, 10))
	}

	body, err := p.postForm(ctx, "/v1/refunds", values)
	if err != nil {
		return nil, err
	}

	var payload struct {
		ID     string `json:"id"`
		Amount int64  `json:"amount"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decoding refund: %v", ErrProviderUnavailable, err)
	}

	return &RefundOutput{
		RefundID:    payload.ID,
		AmountMinor: payload.Amount,
		Status:      payload.Status,
	}, nil
}

func (p *CardProvider) ParseWebhook(payload []byte, signatureHeader string) (*Event, error) {
	if strings.TrimSpace(p.cfg.WebhookSecret) == "" {
		return nil, fmt.Errorf("%w: card webhook secret is not configured", ErrInvalidSignature)
	}
	if !verifyCardSignature(payload, signatureHeader, p.cfg.WebhookSecret, p.cfg.SignatureToleranceSeconds) {
		return nil, ErrInvalidSignature
	}

	var envelope struct {
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: malformed payload", ErrInvalidSignature)
	}

	event := &Event{
		Type:     EventUnknown,
		RawType:  envelope.Type,
		Metadata: map[string]string{},
	}

	switch envelope.Type {
	case "payment_intent.succeeded":
		event.Type = EventChargeSucceeded
		assignIntentFields(event, envelope.Data.Object)
	case "payment_intent.payment_failed":
		event.Type = EventChargeFailed
		assignIntentFields(event, envelope.Data.Object)
	case "refund.created", "charge.refunded", "refund.updated":
		event.Type = EventRefundProcessed
		assignRefundFields(event, envelope.Data.Object)
	}

	return event, nil
}

func (p *CardProvider) postForm(ctx context.Context, path string, values url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return p.do(req)
}

func (p *CardProvider) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)
	return p.do(req)
}

func (p *CardProvider) do(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if resp.StatusCode >= 400 {
		return nil, classifyCardError(resp.StatusCode, body)
	}
	return body, nil
}

func classifyCardError(status int, body []byte) error {
	var payload struct {
		Error struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)

	switch {
	case status == http.StatusNotFound || payload.Error.Code == "resource_missing":
		return fmt.Errorf("%w: %s", ErrNotFound, payload.Error.Message)
	case payload.Error.Code == "charge_already_refunded",
		payload.Error.Code == "payment_intent_unexpected_state":
		return fmt.Errorf("%w: %s", ErrInvalidState, payload.Error.Message)
	case status >= 500:
		return fmt.Errorf("%w: status=%d", ErrProviderUnavailable, status)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: authentication rejected (status=%d)", ErrProviderUnavailable, status)
	default:
		return fmt.Errorf("%w: status=%d %s", ErrInvalidRequest, status, payload.Error.Message)
	}
}

// verifyCardSignature checks the timestamped HMAC-SHA256 scheme the card
// provider signs webhooks with: "t=<unix>,v1=<hex>[,v1=...]". Timestamps
// outside the tolerance window are rejected to stop replays.
func verifyCardSignature(payload []byte, signatureHeader string, webhookSecret string, toleranceSeconds int64) bool {
	signatureHeader = strings.TrimSpace(signatureHeader)
	if signatureHeader == "" || strings.TrimSpace(webhookSecret) == "" {
		return false
	}

	var ts string
	candidates := make([]string, 0, 1)
	for _, part := range strings.Split(signatureHeader, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "t=") {
			ts = strings.TrimPrefix(part, "t=")
		}
		if strings.HasPrefix(part, "v1=") {
			candidates = append(candidates, strings.TrimPrefix(part, "v1="))
		}
	}
	if ts == "" || len(candidates) == 0 {
		return false
	}

	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	now := time.Now().Unix()
	if now-tsUnix > toleranceSeconds || tsUnix-now > toleranceSeconds {
		return false
	}

	mac := hmac.New(sha256.New, []byte(webhookSecret))
	_, _ = mac.Write([]byte(ts + "." + string(payload)))
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		decoded, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return true
		}
	}
	return false
}

func assignIntentFields(event *Event, object json.RawMessage) {
	var intent struct {
		ID       string            `json:"id"`
		Amount   int64             `json:"amount"`
		Currency string            `json:"currency"`
		Created  int64             `json:"created"`
		Metadata map[string]string `json:"metadata"`
	}
	if json.Unmarshal(object, &intent) != nil {
		return
	}
	event.ExternalReference = intent.ID
	event.AmountMinor = intent.Amount
	event.Currency = strings.ToUpper(intent.Currency)
	if intent.Created > 0 {
		paidAt := time.Unix(intent.Created, 0).UTC()
		event.PaidAt = &paidAt
	}
	for k, v := range intent.Metadata {
		event.Metadata[k] = v
	}
}

func assignRefundFields(event *Event, object json.RawMessage) {
	var refund struct {
		ID            string `json:"id"`
		PaymentIntent string `json:"payment_intent"`
		Amount        int64  `json:"amount"`
		Currency      string `json:"currency"`
	}
	if json.Unmarshal(object, &refund) != nil {
		return
	}
	event.ExternalReference = refund.PaymentIntent
	event.RefundID = refund.ID
	event.AmountMinor = refund.Amount
	event.Currency = strings.ToUpper(refund.Currency)
}
