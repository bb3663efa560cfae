// Package client consumes the realtime SSE stream from another process:
// reconnecting with backoff, re-issuing its token when rejected, and
// treating a silent stream as dead.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/yungbote/workspace-core/internal/pkg/httpx"
	"github.com/yungbote/workspace-core/internal/platform/logger"
	"github.com/yungbote/workspace-core/internal/realtime"
)

const (
	DefaultMinBackoff = time.Second
	DefaultMaxBackoff = 60 * time.Second
	streamPath        = "/api/realtime/stream"
	maxFrameBytes     = 1 << 20
)

var errUnauthorized = errors.New("realtime stream rejected token")

// Handler receives every event in arrival order on the Run goroutine.
type Handler func(realtime.ChangeEvent)

type Config struct {
	BaseURL  string
	Channels []string
	Tokens   TokenSource

	// Heartbeat is the server's ping interval; the stream is considered dead
	// after two intervals without a frame.
	Heartbeat  time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
	HTTPClient *http.Client

	// OnConnect runs after every successful (re)connect. Events published
	// while disconnected are lost, so callers typically drop caches here.
	OnConnect func()
}

type Client struct {
	log     *logger.Logger
	cfg     Config
	handler Handler

	mu        sync.Mutex
	token     string
	connected atomic.Bool
}

func New(log *logger.Logger, cfg Config, handler Handler) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("realtime client: base url is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("realtime client: token source is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("realtime client: handler is required")
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = realtime.DefaultHeartbeat
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = DefaultMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = max(DefaultMaxBackoff, cfg.MinBackoff)
	}
	if cfg.HTTPClient == nil {
		// No client timeout: the stream is long-lived and guarded by the
		// idle watchdog instead.
		cfg.HTTPClient = &http.Client{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		log:     log.With("component", "RealtimeClient"),
		cfg:     cfg,
		handler: handler,
	}, nil
}

func (c *Client) Connected() bool { return c.connected.Load() }

// Run keeps the subscription alive until ctx is done and returns ctx's error.
func (c *Client) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.MinBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.Reset()

	for {
		opened, err := c.stream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if opened {
			b.Reset()
		}
		wait := c.retryWait(b.NextBackOff(), err)
		c.log.Warn("realtime stream ended; reconnecting", "error", err, "wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// retryWait honours Retry-After and slows down on statuses a retry will not
// fix, such as a forbidden channel.
func (c *Client) retryWait(next time.Duration, err error) time.Duration {
	var se *httpx.StatusError
	if !errors.As(err, &se) {
		return next
	}
	if !httpx.IsRetryableHTTPStatus(se.Code) {
		next = c.cfg.MaxBackoff
	}
	return max(next, se.RetryAfter)
}

// stream runs one connection. opened reports whether the server accepted it.
func (c *Client) stream(ctx context.Context) (opened bool, err error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resp, err := c.open(streamCtx, false)
	if errors.Is(err, errUnauthorized) {
		resp, err = c.open(streamCtx, true)
	}
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	c.connected.Store(true)
	defer c.connected.Store(false)
	c.log.Info("realtime stream connected", "channels", c.cfg.Channels)
	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect()
	}

	idle := 2 * c.cfg.Heartbeat
	var idled atomic.Bool
	watchdog := time.AfterFunc(idle, func() {
		idled.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	err = readFrames(resp.Body, func() { watchdog.Reset(idle) }, func(event, data string) {
		if event != "" && event != "message" {
			return
		}
		var ev realtime.ChangeEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			c.log.Warn("skipping malformed realtime frame", "error", err)
			return
		}
		c.handler(ev)
	})
	if idled.Load() {
		return true, fmt.Errorf("no frame within %s", idle)
	}
	if err == nil {
		err = io.EOF
	}
	return true, err
}

func (c *Client) open(ctx context.Context, refresh bool) (*http.Response, error) {
	token, err := c.currentToken(ctx, refresh)
	if err != nil {
		return nil, fmt.Errorf("realtime token: %w", err)
	}
	q := url.Values{}
	q.Set("token", token)
	for _, ch := range c.cfg.Channels {
		q.Add("channel", ch)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+streamPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		resp.Body.Close()
		c.dropToken(token)
		return nil, errUnauthorized
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, httpx.NewStatusError("realtime stream", resp, c.cfg.MaxBackoff)
	}
	return resp, nil
}

func (c *Client) currentToken(ctx context.Context, refresh bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && !refresh {
		return c.token, nil
	}
	token, err := c.cfg.Tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

func (c *Client) dropToken(token string) {
	c.mu.Lock()
	if c.token == token {
		c.token = ""
	}
	c.mu.Unlock()
}

// readFrames parses an SSE body. activity fires on every line, comments
// included; emit fires once per blank-line-terminated event with data.
func readFrames(r io.Reader, activity func(), emit func(event, data string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)

	var event string
	var data []string
	for scanner.Scan() {
		activity()
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				emit(event, strings.Join(data, "\n"))
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
			// comment or heartbeat
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				event = value
			case "data":
				data = append(data, value)
			}
		}
	}
	return scanner.Err()
}
