package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/automation-worker/internal/worker/domain"
)

// executionsPath is the application endpoint that starts an automation run
const executionsPath = "/api/run/executions"

// TriggerRequest is the body posted to start one scheduled execution
type TriggerRequest struct {
	DID                        string          `json:"dId"`
	AutomationID               string          `json:"automationId"`
	IsScheduled                bool            `json:"isScheduled"`
	ScheduleRuntimeEnvironment json.RawMessage `json:"scheduleRuntimeEnvironment,omitempty"`
}

// Config holds execution client configuration
type Config struct {
	AppURL     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client posts execution triggers to the application server
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new execution client
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoint:   strings.TrimRight(cfg.AppURL, "/") + executionsPath,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Trigger starts one execution. A non-2xx answer wraps domain.ErrTriggerRejected.
func (c *Client) Trigger(ctx context.Context, req TriggerRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build trigger request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to call execution endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", domain.ErrTriggerRejected, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("Execution triggered",
		slog.String("automation_id", req.AutomationID),
		slog.Int("status", resp.StatusCode),
	)

	return nil
}
