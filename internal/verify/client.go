// Package verify talks to the optional image-authenticity service.
package verify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mnuddindev/disasterlink/pkg/logger"
	"github.com/mnuddindev/disasterlink/pkg/utils"
)

// AuthenticThreshold is the advisory score at or above which an image counts as authentic.
const AuthenticThreshold = 0.7

var ErrDisabled = errors.New("verifier disabled")

// Result is the outcome of one verification call.
type Result struct {
	Scored            bool    `json:"scored"`
	IsAuthentic       bool    `json:"is_authentic"`
	Score             float64 `json:"score"`
	FreshCapture      bool    `json:"fresh_capture"`
	CaptureConfidence float64 `json:"capture_confidence"`
	Status            string  `json:"status,omitempty"`
	Reason            string  `json:"reason,omitempty"`
}

type verifyRequest struct {
	Image    string            `json:"image"`
	Metadata map[string]string `json:"metadata"`
	Location map[string]string `json:"location,omitempty"`
}

type verifyResponse struct {
	Success           bool   `json:"success"`
	Error             string `json:"error"`
	Message           string `json:"message"`
	CaptureValidation struct {
		IsFreshCapture    bool    `json:"is_fresh_capture"`
		CaptureConfidence float64 `json:"capture_confidence"`
	} `json:"capture_validation"`
	DisasterAnalysis struct {
		IsAuthentic       bool    `json:"is_authentic"`
		AuthenticityScore float64 `json:"authenticity_score"`
		Status            string  `json:"status"`
	} `json:"disaster_analysis"`
}

// Client calls POST <base>/verify_disaster.
type Client struct {
	baseURL string
	timeout time.Duration
	log     *logger.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New returns a client. An empty baseURL yields a disabled client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{baseURL: strings.TrimRight(baseURL, "/"), timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether a service URL is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// Verify sends the image and capture metadata. Any transport or service failure is UpstreamUnavailable.
func (c *Client) Verify(ctx context.Context, image []byte, metadata map[string]string) (Result, error) {
	if !c.Enabled() {
		return Result{}, ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return Result{}, utils.UpstreamUnavailable("verifier", err)
	}

	meta := make(map[string]string, len(metadata)+2)
	for k, v := range metadata {
		meta[k] = v
	}
	meta["submission_time"] = time.Now().UTC().Format(time.RFC3339)
	meta["client_type"] = "web_app"

	req := verifyRequest{Image: base64.StdEncoding.EncodeToString(image), Metadata: meta}
	if lat, lng := metadata["latitude"], metadata["longitude"]; lat != "" && lng != "" {
		req.Location = map[string]string{"latitude": lat, "longitude": lng}
	}

	agent := fiber.Post(c.baseURL + "/verify_disaster").JSON(req).Timeout(c.callTimeout(ctx))
	if err := agent.Parse(); err != nil {
		return Result{}, utils.UpstreamUnavailable("verifier", err)
	}

	var resp verifyResponse
	code, body, errs := agent.Struct(&resp)
	if code == 0 && len(errs) > 0 {
		c.log.Warn(ctx).WithError(errs[0]).Logs("Verifier unreachable")
		return Result{}, utils.UpstreamUnavailable("verifier", errs[0])
	}

	switch {
	case code == fiber.StatusForbidden && resp.Error == "IMAGE_NOT_FRESH_CAPTURE":
		// the service refuses to score gallery uploads
		return Result{FreshCapture: false, Status: resp.Error, Reason: resp.Message}, nil
	case code < 200 || code >= 300:
		return Result{}, utils.UpstreamUnavailable("verifier", fmt.Errorf("status %d: %s", code, truncate(body, 200)))
	case len(errs) > 0:
		return Result{}, utils.UpstreamUnavailable("verifier", errs[0])
	case !resp.Success:
		return Result{}, utils.UpstreamUnavailable("verifier", fmt.Errorf("service error: %s", resp.Error))
	}

	score := resp.DisasterAnalysis.AuthenticityScore
	if score < 0 || score > 1 {
		return Result{}, utils.UpstreamUnavailable("verifier", fmt.Errorf("score %v out of range", score))
	}
	return Result{
		Scored:            true,
		IsAuthentic:       IsAuthentic(score),
		Score:             score,
		FreshCapture:      resp.CaptureValidation.IsFreshCapture,
		CaptureConfidence: resp.CaptureValidation.CaptureConfidence,
		Status:            resp.DisasterAnalysis.Status,
	}, nil
}

// Health pings GET <base>/health.
func (c *Client) Health(ctx context.Context) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	agent := fiber.Get(c.baseURL + "/health").Timeout(c.callTimeout(ctx))
	if err := agent.Parse(); err != nil {
		return utils.UpstreamUnavailable("verifier", err)
	}
	code, _, errs := agent.Bytes()
	if len(errs) > 0 {
		return utils.UpstreamUnavailable("verifier", errs[0])
	}
	if code != fiber.StatusOK {
		return utils.UpstreamUnavailable("verifier", fmt.Errorf("status %d", code))
	}
	return nil
}

func (c *Client) callTimeout(ctx context.Context) time.Duration {
	t := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 && d < t {
			t = d
		}
	}
	return t
}

// IsAuthentic applies the advisory threshold. It never drives a status change.
func IsAuthentic(score float64) bool {
	return score >= AuthenticThreshold
}

// Label is the human-readable verdict for an optional score.
func Label(score *float64) string {
	if score == nil {
		return "Not Processed"
	}
	switch s := *score; {
	case s >= 0.8:
		return "Highly Authentic"
	case s >= 0.6:
		return "Likely Authentic"
	case s >= 0.4:
		return "Uncertain"
	default:
		return "Likely Fake"
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
