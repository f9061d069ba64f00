package status

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/teu-im/teuim/pkg/errorsx"
	"github.com/teu-im/teuim/pkg/logging"
	"github.com/teu-im/teuim/pkg/resilience"
)

// Status of the caller's logical interpretation session, as persisted by the
// external session service. Local state stays authoritative: a failed remote
// transition is logged and otherwise ignored.
type Status string

const (
	Active Status = "active"
	Paused Status = "paused"
	Ended  Status = "ended"
)

type Config struct {
	Endpoint    string `mapstructure:"endpoint"`
	BearerToken string `mapstructure:"bearer_token"`
}

type Client struct {
	cfg       Config
	sessionID string
	http      *http.Client
	retry     resilience.Options
	logger    *slog.Logger
}

func NewClient(cfg Config, sessionID string, retry resilience.Options, logger *slog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("status endpoint is required")
	}
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	return &Client{
		cfg:       cfg,
		sessionID: sessionID,
		http:      &http.Client{Timeout: 10 * time.Second},
		retry:     retry,
		logger:    logging.NewComponentLogger(logger, "status"),
	}, nil
}

// Report performs one PATCH-style transition. Transient errors are retried;
// an exhausted failure is returned so the caller can log it, but callers
// must never treat it as fatal.
func (c *Client) Report(ctx context.Context, st Status) error {
	err := resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.reportOnce(ctx, st)
	})
	if err != nil {
		c.logger.Warn("status update failed",
			slog.String("status", string(st)),
			slog.String("session_id", c.sessionID),
			slog.String("error", err.Error()))
	}
	return errorsx.Wrap(err, errorsx.ReasonStatusUpdate)
}

func (c *Client) reportOnce(ctx context.Context, st Status) error {
	body, err := json.Marshal(map[string]string{"status": string(st)})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/sessions/%s", c.cfg.Endpoint, c.sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status update rejected (status %d)", resp.StatusCode)
	}
	return nil
}
