package disputes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// ServerControl is the hosting backend that actually powers servers off.
// Shutdown is synchronous and acknowledged; this workflow fires it once
// per server and does not poll for completion.
type ServerControl interface {
	Shutdown(ctx context.Context, userId int, serverId int) error
}

type agentControl struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewAgentControl() (ServerControl, error) {
	baseURL := strings.TrimSpace(os.Getenv("SERVER_CONTROL_BASE_URL"))
	if baseURL == "" {
		return nil, errors.New("SERVER_CONTROL_BASE_URL is required")
	}
	return &agentControl{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(os.Getenv("SERVER_CONTROL_API_KEY")),
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *agentControl) Shutdown(ctx context.Context, userId int, serverId int) error {
	endpoint := fmt.Sprintf("%s/v1/users/%d/servers/%d/shutdown", c.baseURL, userId, serverId)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server control shutdown %d: status %d: %s", serverId, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
