package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/napsa-zm/erm-platform/internal/config"
)

// Regulator connector names.
const (
	NameGoAML = "goaml"
	NamePACRA = "pacra"
	NameZRA   = "zra"
	NameCCPC  = "ccpc"
)

// HTTPConnector talks to one regulator API, or serves canned envelopes in
// mock mode.
type HTTPConnector struct {
	name   string
	cfg    config.HTTPConnectorConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPConnector builds a regulator connector from config.
func NewHTTPConnector(name string, cfg config.HTTPConnectorConfig, logger *zap.Logger) *HTTPConnector {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPConnector{
		name:   name,
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (c *HTTPConnector) Name() string { return c.name }

// Status pings the remote /status endpoint, or reports healthy in mock
// mode.
func (c *HTTPConnector) Status(ctx context.Context) Status {
	s := Status{Name: c.name, CheckedAt: time.Now().UTC()}
	if c.cfg.UseMock {
		s.Mode = "mock"
		s.Healthy = true
		return s
	}
	s.Mode = "live"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/status", nil)
	if err != nil {
		s.Detail = err.Error()
		return s
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	resp, err := c.client.Do(req)
	if err != nil {
		s.Detail = err.Error()
		return s
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	s.Healthy = resp.StatusCode == http.StatusOK
	if !s.Healthy {
		s.Detail = resp.Status
	}
	return s
}

// Sync pulls the external record for a reference.
func (c *HTTPConnector) Sync(ctx context.Context, reference string) (map[string]any, error) {
	if c.cfg.UseMock {
		return c.mockEnvelope(reference), nil
	}

	body, err := json.Marshal(map[string]string{"reference": reference})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/sync", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRemote, c.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %s", ErrRemote, c.name, resp.Status)
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %s sent invalid JSON: %v", ErrRemote, c.name, err)
	}
	return payload, nil
}

// SubmitReport posts a regulatory filing envelope. Only the goAML
// connector uses it; mock mode acknowledges with a receipt number.
func (c *HTTPConnector) SubmitReport(ctx context.Context, reportNumber string, payload map[string]any) (map[string]any, error) {
	if c.cfg.UseMock {
		return map[string]any{
			"accepted":       true,
			"receipt_number": "RCP-" + reportNumber,
			"received_at":    time.Now().UTC().Format(time.RFC3339),
		}, nil
	}

	body, err := json.Marshal(map[string]any{
		"report_number": reportNumber,
		"payload":       payload,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/reports", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRemote, c.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: %s returned %s", ErrRemote, c.name, resp.Status)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %s sent invalid JSON: %v", ErrRemote, c.name, err)
	}
	return out, nil
}

// mockEnvelope mirrors the envelope shape each regulator returns so
// downstream consumers exercise the same parsing in both modes.
func (c *HTTPConnector) mockEnvelope(reference string) map[string]any {
	now := time.Now().UTC().Format(time.RFC3339)
	switch c.name {
	case NameGoAML:
		return map[string]any{
			"institution_id":              reference,
			"institution_name":            "National Pension Scheme Authority",
			"aml_compliance_status":       "compliant",
			"overdue_reports_count":       0,
			"sanctions_screening_enabled": true,
			"last_sync_date":              now,
		}
	case NamePACRA:
		return map[string]any{
			"registration_number": reference,
			"company_name":        "Mock Holdings Limited",
			"registration_status": "active",
			"company_type":        "private_limited",
			"incorporation_date":  "2015-03-12",
			"last_sync_date":      now,
		}
	case NameZRA:
		return map[string]any{
			"tpin":              reference,
			"taxpayer_name":     "Mock Holdings Limited",
			"tax_clearance":     "valid",
			"vat_registered":    true,
			"outstanding_debts": 0,
			"last_sync_date":    now,
		}
	case NameCCPC:
		return map[string]any{
			"case_reference":      reference,
			"competition_flags":   0,
			"consumer_complaints": 0,
			"status":              "clear",
			"last_sync_date":      now,
		}
	default:
		return map[string]any{"reference": reference, "last_sync_date": now}
	}
}
