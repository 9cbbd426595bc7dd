package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// RPCClient calls a running gateway over HTTP JSON-RPC.
type RPCClient struct {
	baseURL string
	secret  string
	http    *http.Client
}

// NewRPCClient creates a client for the gateway at baseURL (e.g. http://127.0.0.1:18790).
func NewRPCClient(baseURL, secret string) *RPCClient {
	return &RPCClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Call invokes method and decodes the result into out (may be nil).
// RPC-level failures are returned as *RPCError.
func (c *RPCClient) Call(ctx context.Context, method string, params map[string]interface{}, out interface{}) error {
	id, err := gonanoid.New()
	if err != nil {
		return err
	}
	body, err := json.Marshal(RPCRequest{
		ID:      id,
		Method:  method,
		Params:  params,
		JSONRPC: "2.0",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("gateway rejected the shared secret")
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read gateway response: %w", err)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("invalid gateway response (HTTP %d): %w", resp.StatusCode, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}
