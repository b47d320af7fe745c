package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"watch_together/native/internal/domain"
)

// ErrNoServers is returned when the directory answers with an empty list.
var ErrNoServers = errors.New("relay directory returned no servers")

// relayResponse covers the response shapes the directory is known to use:
// {"v":{"iceServers":[...]}}, {"iceServers":[...]} or a bare array.
type relayResponse struct {
	V *struct {
		ICEServers []domain.ICEServer `json:"iceServers"`
	} `json:"v"`
	ICEServers []domain.ICEServer `json:"iceServers"`
}

// Client fetches relay/reflection server lists from the directory endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a directory client for endpoint.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchRelayServers calls the directory endpoint and returns its server list.
func (c *Client) FetchRelayServers(ctx context.Context) ([]domain.ICEServer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	servers, err := parseServers(body)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, ErrNoServers
	}
	return servers, nil
}

func parseServers(body []byte) ([]domain.ICEServer, error) {
	var list []domain.ICEServer
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}

	var resp relayResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.V != nil && len(resp.V.ICEServers) > 0 {
		return resp.V.ICEServers, nil
	}
	return resp.ICEServers, nil
}
