package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/assentworks/assent/pkg/contracts"
)

// BridgeConfig configures the HTTP adapter fronting the real workspace
// connector.
type BridgeConfig struct {
	// URL is the bridge endpoint the adapter POSTs commands to.
	URL string `json:"url"`
	// AuthToken, when set, is sent as a bearer token.
	AuthToken string `json:"auth_token,omitempty"`
	// Timeout bounds the HTTP call. Default: 30s.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// HTTPAdapter forwards a command to the bridge with a single POST. Retry
// and backoff belong to the connector behind the bridge, not here: a
// failed call is reported as-is and the command lands in FAILED.
type HTTPAdapter struct {
	config BridgeConfig
	client *http.Client
}

func NewHTTPAdapter(cfg BridgeConfig) *HTTPAdapter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &HTTPAdapter{
		config: cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (a *HTTPAdapter) Manifest() Manifest {
	return Manifest{Name: "bridge-http", Version: "1.0.0", Engine: ">=1.0.0 <2.0.0"}
}

func (a *HTTPAdapter) Scope() contracts.Scope { return contracts.ScopeAPIExecuteRaw }

// bridgeResponse is the connector's result envelope.
type bridgeResponse struct {
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Execute POSTs the request to the bridge exactly once. Any transport
// error, non-2xx status, or connector-reported error is an adapter failure.
func (a *HTTPAdapter) Execute(ctx context.Context, req ExecRequest) (ExecResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return ExecResult{}, fmt.Errorf("marshal bridge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(payload))
	if err != nil {
		return ExecResult{}, fmt.Errorf("build bridge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.config.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.config.AuthToken)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return ExecResult{}, fmt.Errorf("bridge call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ExecResult{}, fmt.Errorf("read bridge response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ExecResult{}, fmt.Errorf("bridge returned status %d: %s", resp.StatusCode, snippet(body))
	}

	var out bridgeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return ExecResult{}, fmt.Errorf("decode bridge response: %w", err)
	}
	if out.Error != "" {
		return ExecResult{}, fmt.Errorf("bridge reported: %s", out.Error)
	}
	return ExecResult{Payload: out.Result}, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		return s[:256] + "..."
	}
	return s
}
