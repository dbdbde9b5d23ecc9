package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roofmanager/ms-go-payments/app/types"
)

const regionalSignatureHeader = "X-Paystack-Signature"

type RegionalConfig struct {
	SecretKey   string
	BaseURL     string
	HTTPTimeout time.Duration
}

// RegionalProvider integrates the mobile-money/card processor used for
// customers in the regional allow-list. All amounts are already in the minor
// unit the processor expects (pesewas, kobo, cents).
type RegionalProvider struct {
	cfg    RegionalConfig
	client *http.Client
}

func NewRegionalProvider(cfg RegionalConfig) *RegionalProvider {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.paystack.co"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &RegionalProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *RegionalProvider) ID() types.ProviderID {
	return types.ProviderRegional
}

func (p *RegionalProvider) SignatureHeader() string {
	return regionalSignatureHeader
}

type regionalEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (p *RegionalProvider) Initialize(ctx context.Context, input *InitializeInput) (*InitializeOutput, error) {
	if input.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be > 0", ErrInvalidRequest)
	}
	if strings.TrimSpace(input.CustomerEmail) == "" {
		return nil, fmt.Errorf("%w: customer email is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(p.cfg.SecretKey) == "" {
		return nil, fmt.Errorf("%w: regional provider secret key is not configured", ErrProviderUnavailable)
	}

	request := map[string]interface{}{
		"email":     strings.TrimSpace(input.CustomerEmail),
		"amount":    input.AmountMinor,
		"currency":  strings.ToUpper(input.Currency),
		"reference": input.Reference,
	}
	if input.CallbackURL != "" {
		request["callback_url"] = input.CallbackURL
	}
	if len(input.Metadata) > 0 {
		request["metadata"] = input.Metadata
	}

	envelope, err := p.postJSON(ctx, "/transaction/initialize", request)
	if err != nil {
		return nil, err
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: decoding initialization: %v", ErrProviderUnavailable, err)
	}

	reference := strings.TrimSpace(data.Reference)
	if reference == "" {
		reference = input.Reference
	}

	result := &InitializeOutput{ExternalReference: reference}
	if s := strings.TrimSpace(data.AuthorizationURL); s != "" {
		result.AuthorizationURL = &s
	}
	if s := strings.TrimSpace(data.AccessCode); s != "" {
		result.AccessCode = &s
	}
	return result, nil
}

func (p *RegionalProvider) Verify(ctx context.Context, externalReference string) (*VerifyResult, error) {
	envelope, err := p.get(ctx, "/transaction/verify/"+url.PathEscape(externalReference))
	if err != nil {
		return nil, err
	}

	var data struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Status    string `json:"status"`
		PaidAt    string `json:"paid_at"`
		Channel   string `json:"channel"`
	}
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: decoding verification: %v", ErrProviderUnavailable, err)
	}

	result := &VerifyResult{
		AmountMinor: data.Amount,
		Currency:    strings.ToUpper(data.Currency),
		Channel:     data.Channel,
		RawStatus:   data.Status,
	}
	switch data.Status {
	case "success":
		result.Succeeded = true
		if t, err := time.Parse(time.RFC3339, data.PaidAt); err == nil {
			paidAt := t.UTC()
			result.PaidAt = &paidAt
		}
	case "failed", "abandoned", "reversed":
		result.Failed = true
	}
	return result, nil
}

func (p *RegionalProvider) Refund(ctx context.Context, externalReference string, amountMinor *int64) (*RefundOutput, error) {
	request := map[string]interface{}{
		"transaction": externalReference,
	}
	if amountMinor != nil {
		request["amount"] = *amountMinor
	}

	envelope, err := p.postJSON(ctx, "/refund", request)
	if err != nil {
		return nil, err
	}

	var data struct {
		ID     json.Number `json:"id"`
		Amount int64       `json:"amount"`
		Status string      `json:"status"`
	}
	decoder := json.NewDecoder(bytes.NewReader(envelope.Data))
	decoder.UseNumber()
	if err := decoder.Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: decoding refund: %v", ErrProviderUnavailable, err)
	}

	return &RefundOutput{
		RefundID:    data.ID.String(),
		AmountMinor: data.Amount,
		Status:      data.Status,
	}, nil
}

// ParseWebhook authenticates with HMAC-SHA512 of the raw body keyed by the
// secret key, hex-encoded, compared in constant time against the signature
// header.
func (p *RegionalProvider) ParseWebhook(payload []byte, signatureHeader string) (*Event, error) {
	signatureHeader = strings.TrimSpace(signatureHeader)
	if signatureHeader == "" || strings.TrimSpace(p.cfg.SecretKey) == "" {
		return nil, ErrInvalidSignature
	}

	mac := hmac.New(sha512.New, []byte(p.cfg.SecretKey))
	_, _ = mac.Write(payload)
	expected := []byte(hex.EncodeToString(mac.Sum(nil)))
	if !hmac.Equal(expected, []byte(signatureHeader)) {
		return nil, ErrInvalidSignature
	}

	var envelope struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: malformed payload", ErrInvalidSignature)
	}

	event := &Event{
		Type:     EventUnknown,
		RawType:  envelope.Event,
		Metadata: map[string]string{},
	}

	switch envelope.Event {
	case "charge.success":
		event.Type = EventChargeSucceeded
		assignChargeFields(event, envelope.Data)
	case "charge.failed":
		event.Type = EventChargeFailed
		assignChargeFields(event, envelope.Data)
	case "refund.processed":
		event.Type = EventRefundProcessed
		assignRegionalRefundFields(event, envelope.Data)
	}

	return event, nil
}

func (p *RegionalProvider) postJSON(ctx context.Context, path string, request map[string]interface{}) (*regionalEnvelope, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/json")
	return p.do(req)
}

func (p *RegionalProvider) get(ctx context.Context, path string) (*regionalEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)
	return p.do(req)
}

func (p *RegionalProvider) do(req *http.Request) (*regionalEnvelope, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	var envelope regionalEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: status=%d", ErrProviderUnavailable, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: undecodable response (status=%d)", ErrProviderUnavailable, resp.StatusCode)
	}

	if resp.StatusCode >= 400 || !envelope.Status {
		return nil, classifyRegionalError(resp.StatusCode, envelope.Message)
	}
	return &envelope, nil
}

func classifyRegionalError(status int, message string) error {
	lower := strings.ToLower(message)
	switch {
	case status == http.StatusNotFound || strings.Contains(lower, "not found"):
		return fmt.Errorf("%w: %s", ErrNotFound, message)
	case strings.Contains(lower, "cannot be refunded") || strings.Contains(lower, "fully refunded"):
		return fmt.Errorf("%w: %s", ErrInvalidState, message)
	case status >= 500:
		return fmt.Errorf("%w: status=%d", ErrProviderUnavailable, status)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: authentication rejected (status=%d)", ErrProviderUnavailable, status)
	default:
		return fmt.Errorf("%w: status=%d %s", ErrInvalidRequest, status, message)
	}
}

func assignChargeFields(event *Event, data json.RawMessage) {
	var charge struct {
		Reference string            `json:"reference"`
		Amount    int64             `json:"amount"`
		Currency  string            `json:"currency"`
		PaidAt    string            `json:"paid_at"`
		Channel   string            `json:"channel"`
		Metadata  map[string]string `json:"metadata"`
	}
	if json.Unmarshal(data, &charge) != nil {
		return
	}
	event.ExternalReference = charge.Reference
	event.AmountMinor = charge.Amount
	event.Currency = strings.ToUpper(charge.Currency)
	if charge.Channel != "" {
		event.Metadata["channel"] = charge.Channel
	}
	if t, err := time.Parse(time.RFC3339, charge.PaidAt); err == nil {
		paidAt := t.UTC()
		event.PaidAt = &paidAt
	}
	for k, v := range charge.Metadata {
		event.Metadata[k] = v
	}
}

func assignRegionalRefundFields(event *Event, data json.RawMessage) {
	var refund struct {
		ID                   json.Number `json:"id"`
		TransactionReference string      `json:"transaction_reference"`
		Amount               int64       `json:"amount"`
		Currency             string      `json:"currency"`
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if decoder.Decode(&refund) != nil {
		return
	}
	event.ExternalReference = refund.TransactionReference
	event.RefundID = refund.ID.String()
	event.AmountMinor = refund.Amount
	event.Currency = strings.ToUpper(refund.Currency)
}
