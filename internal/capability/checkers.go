package capability

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"

	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// HTTPChecker validates that a URL answers with a non-5xx status.
type HTTPChecker struct {
	client *http.Client
}

// NewHTTPChecker creates an HTTPChecker. A nil client uses http.DefaultClient.
func NewHTTPChecker(client *http.Client) *HTTPChecker {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPChecker{client: client}
}

// Check implements Checker. Parameter: url.
func (h *HTTPChecker) Check(ctx context.Context, c schema.Capability) (*Response, error) {
	url := c.Param("url")
	if url == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "HTTP capability requires url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return &Response{Validated: false, Basis: fmt.Sprintf("unable to reach %s: %v", url, err)}, nil
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &Response{Validated: false, Basis: fmt.Sprintf("%s returned %d", url, resp.StatusCode)}, nil
	}
	return &Response{Validated: true, Basis: fmt.Sprintf("%s returned %d", url, resp.StatusCode)}, nil
}

// BinaryChecker validates that a binary is on PATH. Parameter: name.
type BinaryChecker struct{}

// Check implements Checker.
func (BinaryChecker) Check(_ context.Context, c schema.Capability) (*Response, error) {
	name := c.Param("name")
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "BINARY capability requires name")
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return &Response{Validated: false, Basis: fmt.Sprintf("%s not found on PATH", name)}, nil
	}
	return &Response{Validated: true, Basis: "found at " + path}, nil
}

// SocketChecker validates that a TCP address accepts connections.
// Parameters: address, or host and port.
type SocketChecker struct{}

// Check implements Checker.
func (SocketChecker) Check(ctx context.Context, c schema.Capability) (*Response, error) {
	addr := c.Param("address")
	if addr == "" && c.Param("host") != "" {
		addr = net.JoinHostPort(c.Param("host"), c.Param("port"))
	}
	if addr == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "SOCKET capability requires address or host")
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &Response{Validated: false, Basis: fmt.Sprintf("dial %s: %v", addr, err)}, nil
	}
	_ = conn.Close()
	return &Response{Validated: true, Basis: "connected to " + addr}, nil
}

// EnvChecker validates that a credential variable is set. Parameter: name.
type EnvChecker struct{}

// Check implements Checker.
func (EnvChecker) Check(_ context.Context, c schema.Capability) (*Response, error) {
	name := c.Param("name")
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "ENV capability requires name")
	}
	if v, ok := os.LookupEnv(name); !ok || v == "" {
		return &Response{Validated: false, Basis: name + " is not set"}, nil
	}
	return &Response{Validated: true, Basis: name + " is set"}, nil
}
