package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dunamismax/deepfry/internal/id"
)

const (
	HeaderSignature = "X-Deepfry-Signature"
	HeaderTimestamp = "X-Deepfry-Timestamp"
	HeaderEvent     = "X-Deepfry-Event"
	HeaderDelivery  = "X-Deepfry-Delivery"

	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	httpClient    *http.Client
	signingSecret string
	cfg           Config
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.MaxAttempts = max(cfg.MaxAttempts, 1)
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	cfg.MaxBackoff = max(cfg.MaxBackoff, cfg.InitialBackoff)

	return &Client{
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		signingSecret: cfg.SigningSecret,
		cfg:           cfg,
	}
}

// delivery is one signed event. Every attempt reuses its body, timestamp and id
// so receivers can deduplicate retries.
type delivery struct {
	endpoint  string
	event     string
	id        string
	timestamp string
	signature string
	body      []byte
}

// Send posts a signed JSON event. 4xx responses other than 429 are not
// retried. An empty endpoint is a no-op.
func (c *Client) Send(ctx context.Context, endpoint, event string, payload any) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	d := delivery{
		endpoint:  endpoint,
		event:     event,
		id:        id.New(),
		timestamp: strconv.FormatInt(time.Now().UTC().Unix(), 10),
		body:      body,
	}
	d.signature = c.Sign(d.timestamp, body)

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = c.cfg.InitialBackoff
	schedule.MaxInterval = c.cfg.MaxBackoff

	_, err = backoff.Retry(ctx, func() (int, error) {
		return c.attempt(ctx, d)
	},
		backoff.WithBackOff(schedule),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
	)
	if err != nil {
		return fmt.Errorf("deliver %s to %s: %w", event, endpoint, err)
	}
	return nil
}

func (c *Client) attempt(ctx context.Context, d delivery) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(d.body))
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, d.timestamp)
	req.Header.Set(HeaderSignature, d.signature)
	req.Header.Set(HeaderEvent, d.event)
	req.Header.Set(HeaderDelivery, d.id)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return resp.StatusCode, classifyStatus(resp.StatusCode)
}

// Sign returns the signature receivers recompute over "<timestamp>.<body>".
func (c *Client) Sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.signingSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 400 && status < 500 && status != http.StatusTooManyRequests:
		return backoff.Permanent(fmt.Errorf("receiver rejected delivery: status %d", status))
	default:
		return fmt.Errorf("receiver unavailable: status %d", status)
	}
}
