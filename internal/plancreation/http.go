package plancreation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

const maxResponseBytes = 8 << 20

// HTTPConfig configures a remote plan creator.
type HTTPConfig struct {
	Name string
	URL  string
	// Supported is returned verbatim from SupportedTypes.
	Supported map[string][]string
	// OAuth2 authenticates requests with the client-credentials grant when set.
	OAuth2     *clientcredentials.Config
	HTTPClient *http.Client
	Timeout    time.Duration
}

// HTTPService delegates plan creation to a remote service. The request body
// is a CreationRequest and the reply a PartialResponse, both JSON.
type HTTPService struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPService creates an HTTPService.
func NewHTTPService(cfg HTTPConfig) (*HTTPService, error) {
	if cfg.URL == "" {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "plan creator url is required")
	}
	if cfg.Name == "" {
		cfg.Name = cfg.URL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCallTimeout
	}
	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}
	client := base
	if cfg.OAuth2 != nil {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client = cfg.OAuth2.Client(ctx)
		client.Timeout = cfg.Timeout
	}
	return &HTTPService{cfg: cfg, client: client}, nil
}

func (s *HTTPService) Name() string { return s.cfg.Name }

func (s *HTTPService) SupportedTypes() map[string][]string { return s.cfg.Supported }

func (s *HTTPService) Create(ctx context.Context, req CreationRequest) (*PartialResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(truncate(data, 512)))
	}

	var out PartialResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
