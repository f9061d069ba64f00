package credential

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

// Config for the credential provider boundary: a single authenticated call
// that trades the caller's session token for a short-lived streaming
// credential scoped to one project.
type Config struct {
	Endpoint    string `mapstructure:"endpoint"`
	ProjectID   string `mapstructure:"project_id"`
	BearerToken string `mapstructure:"bearer_token"`
}

type Client struct {
	cfg    Config
	http   *http.Client
	retry  resilience.Options
	logger *slog.Logger
}

func NewClient(cfg Config, retry resilience.Options, logger *slog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("credential endpoint is required")
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("credential project id is required")
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 15 * time.Second},
		retry:  retry,
		logger: logging.NewComponentLogger(logger, "credential"),
	}, nil
}

type issueRequest struct {
	ProjectID string `json:"project_id"`
}

type issueResponse struct {
	Credential string `json:"credential"`
	Error      string `json:"error,omitempty"`
}

// Issue requests one streaming credential. Transient failures (network,
// timeout, 5xx) are retried; 4xx responses surface immediately with the
// server-provided message when there is one.
func (c *Client) Issue(ctx context.Context) (string, error) {
	var credential string
	err := resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		value, err := c.issueOnce(ctx)
		if err != nil {
			c.logger.Warn("credential request failed", slog.String("error", err.Error()))
			return err
		}
		credential = value
		return nil
	})
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonCredentialFetch)
	}
	return credential, nil
}

func (c *Client) issueOnce(ctx context.Context) (string, error) {
	body, err := json.Marshal(issueRequest{ProjectID: c.cfg.ProjectID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	var decoded issueResponse
	_ = json.Unmarshal(raw, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decoded.Error != "" {
			return "", fmt.Errorf("%s (status %d)", decoded.Error, resp.StatusCode)
		}
		return "", fmt.Errorf("credential request failed (status %d)", resp.StatusCode)
	}
	if decoded.Credential == "" {
		return "", fmt.Errorf("credential response missing credential")
	}
	return decoded.Credential, nil
}
