// Package client is the control-station proxy for the actuator service.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gwillem/dofbot/pkg/actuator"
	"github.com/gwillem/dofbot/pkg/robot"
)

// DefaultTimeout bounds calls that do not move the arm.
const DefaultTimeout = 10 * time.Second

// ConnectionState is the client's view of the device, updated by every call.
type ConnectionState int

const (
	Unknown ConnectionState = iota
	Connected
	Disconnected
)

func (s ConnectionState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Config configures a Client.
type Config struct {
	// BaseURL of the device, e.g. http://192.168.31.157:5000
	BaseURL string
	// Timeout overrides DefaultTimeout for non-moving calls.
	Timeout time.Duration
	// HTTPClient defaults to a fresh http.Client.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client mirrors the actuator service operations over HTTP. A deadline on
// the call's context replaces the default timeout. There is no background
// heartbeat; State reflects the outcome of the latest call.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.RWMutex
	state ConnectionState
}

// New creates a client and checks the device once with ReadAngles. An
// unreachable device is logged and reflected in State, not returned: the
// only error is a malformed BaseURL.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if !strings.Contains(cfg.BaseURL, "://") {
		cfg.BaseURL = "http://" + cfg.BaseURL
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("%w: device url %q", robot.ErrInvalidInput, cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Client{
		base:    base,
		http:    cfg.HTTPClient,
		timeout: cfg.Timeout,
		logger:  cfg.Logger.With("device", base.Host),
	}

	if _, err := c.ReadAngles(ctx); err != nil {
		c.logger.Warn("device not reachable at startup", "error", err)
	} else {
		c.logger.Info("device connected")
	}
	return c, nil
}

// State returns the connection state after the most recent call.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.logger.Info("connection state changed", "from", prev, "to", s)
	}
}

// ReadAngles returns the live joint angles.
func (c *Client) ReadAngles(ctx context.Context) (robot.JointAngles, error) {
	return c.anglesCall(ctx, actuator.PathAngles, nil, c.timeout)
}

// WriteAngles moves the arm and returns the post-move angles. Malformed
// targets are rejected locally with ErrInvalidInput. A zero duration lets
// the device choose its default. Unless ctx carries a deadline the call
// waits for the full move plus the settle margin.
func (c *Client) WriteAngles(ctx context.Context, target robot.JointAngles, duration time.Duration) (robot.JointAngles, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if duration < 0 || duration > actuator.MaxMoveDuration {
		return nil, fmt.Errorf("%w: duration %v", robot.ErrInvalidInput, duration)
	}

	q := url.Values{}
	q.Set(actuator.ParamAngles, target.String())
	moveTime := actuator.DefaultMoveDuration
	if duration > 0 {
		q.Set(actuator.ParamDuration, strconv.FormatInt(duration.Milliseconds(), 10))
		moveTime = duration
	}
	return c.anglesCall(ctx, actuator.PathSetAngles, q, moveTime+actuator.SettleMargin+c.timeout)
}

// MoveHome moves the arm to its home pose.
func (c *Client) MoveHome(ctx context.Context, grip actuator.Grip) (robot.JointAngles, error) {
	q := url.Values{}
	if grip != "" {
		q.Set(actuator.ParamGrip, string(grip))
	}
	return c.anglesCall(ctx, actuator.PathHome, q, actuator.HomeDuration+actuator.SettleMargin+c.timeout)
}

// CaptureImage returns one JPEG frame from the device camera.
func (c *Client) CaptureImage(ctx context.Context) ([]byte, error) {
	body, err := c.call(ctx, actuator.PathImage, nil, c.timeout, robot.ErrCapture)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Moves returns the device's most recent journaled moves.
func (c *Client) Moves(ctx context.Context, limit int) ([]actuator.MoveRecord, error) {
	q := url.Values{}
	q.Set(actuator.ParamLimit, strconv.Itoa(limit))
	body, err := c.call(ctx, actuator.PathMoves, q, c.timeout, nil)
	if err != nil {
		return nil, err
	}
	var resp actuator.MovesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.setState(Disconnected)
		return nil, fmt.Errorf("%w: decode moves: %v", robot.ErrUnreachable, err)
	}
	return resp.Moves, nil
}

func (c *Client) anglesCall(ctx context.Context, path string, q url.Values, timeout time.Duration) (robot.JointAngles, error) {
	body, err := c.call(ctx, path, q, timeout, robot.ErrHardwareRead)
	if err != nil {
		return nil, err
	}

	var resp anglesBody
	if err := json.Unmarshal(body, &resp); err != nil {
		c.setState(Disconnected)
		return nil, fmt.Errorf("%w: decode %s: %v", robot.ErrUnreachable, path, err)
	}
	angles, err := robot.AnglesFromFloats(resp.Angles)
	if err == nil {
		err = angles.Validate()
	}
	if err != nil {
		c.setState(Disconnected)
		return nil, fmt.Errorf("%w: %s returned bad angles: %v", robot.ErrUnreachable, path, err)
	}
	if resp.Clamped {
		c.logger.Info("device clamped move", "applied", fmt.Sprint(resp.Applied))
	}
	return angles, nil
}

// anglesBody mirrors actuator.AnglesResponse with untyped numbers, so
// devices that report whole angles as 90.0 are accepted.
type anglesBody struct {
	Angles  []float64 `json:"angles"`
	Clamped bool      `json:"clamped,omitempty"`
	Applied []float64 `json:"applied,omitempty"`
}

// call performs one round trip. serverErr classifies 5xx responses.
func (c *Client) call(ctx context.Context, path string, q url.Values, timeout time.Duration, serverErr error) ([]byte, error) {
	u := c.base.JoinPath(path)
	u.RawQuery = q.Encode()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", robot.ErrInvalidInput, err)
	}

	c.logger.Debug("request", "url", u.String())
	resp, err := c.http.Do(req)
	if err != nil {
		c.setState(Disconnected)
		return nil, fmt.Errorf("%w: %s: %v", robot.ErrUnreachable, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.setState(Disconnected)
		return nil, fmt.Errorf("%w: read %s: %v", robot.ErrUnreachable, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.setState(Disconnected)
		msg := strings.TrimSpace(string(body))
		switch {
		case resp.StatusCode == http.StatusBadRequest:
			return nil, fmt.Errorf("%w: %s", robot.ErrInvalidInput, msg)
		case resp.StatusCode >= 500 && serverErr != nil:
			return nil, fmt.Errorf("%w: %s", serverErr, msg)
		default:
			return nil, fmt.Errorf("%s: unexpected status %d: %s", path, resp.StatusCode, msg)
		}
	}

	c.setState(Connected)
	return body, nil
}

// IsUnreachable reports whether err came from a transport failure.
func IsUnreachable(err error) bool {
	return errors.Is(err, robot.ErrUnreachable)
}
