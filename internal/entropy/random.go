// Package entropy picks session seeds when none is configured: from
// random.org when a key is set, otherwise from crypto/rand. Everything
// downstream of the seed stays deterministic.
package entropy

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxSeed keeps seeds positive and short enough to type back in.
const maxSeed = 1<<31 - 1

// Client requests integers from the random.org JSON-RPC API.
type Client struct {
	apiKey string
	url    string
	client *http.Client
}

// NewClient creates a random.org client. Returns nil if apiKey is empty.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey: apiKey,
		url:    "https://api.random.org/json-rpc/4/invoke",
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Enabled returns true if the client has a valid API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Seed fetches one seed in [1, maxSeed].
func (c *Client) Seed(ctx context.Context) (int64, error) {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "generateIntegers",
		"params": map[string]any{
			"apiKey": c.apiKey,
			"n":      1,
			"min":    1,
			"max":    maxSeed,
		},
		"id": 1,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("random.org call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}

	var result struct {
		Result struct {
			Random struct {
				Data []int64 `json:"data"`
			} `json:"random"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return 0, fmt.Errorf("parse response: %w", err)
	}
	if result.Error != nil {
		return 0, fmt.Errorf("random.org API error: %s", result.Error.Message)
	}
	if len(result.Result.Random.Data) == 0 {
		return 0, fmt.Errorf("random.org returned no data")
	}
	return result.Result.Random.Data[0], nil
}

// NewSeed returns a fresh seed from c when enabled, falling back to
// crypto/rand.
func NewSeed(ctx context.Context, c *Client) int64 {
	if c.Enabled() {
		s, err := c.Seed(ctx)
		if err == nil && s > 0 {
			return s
		}
		slog.Debug("random.org seed unavailable", "error", err)
	}
	return cryptoSeed()
}

func cryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 1
	}
	return int64(binary.LittleEndian.Uint64(buf[:])%maxSeed) + 1
}
