// Package client calls a running decky-sbox daemon over its HTTP
// transport.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ljm625/decky-sbox/internal/server"
	"github.com/ljm625/decky-sbox/pkg/sbox"
)

// DefaultTimeout covers a download plus a sing-box restart.
const DefaultTimeout = 2 * time.Minute

// Client talks to one daemon.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New returns a client for the daemon listening on addr, which may be a
// host:port or a full URL.
func New(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{BaseURL: base, HTTP: &http.Client{Timeout: DefaultTimeout}}
}

// call posts args to op and decodes the envelope. Transport and decoding
// problems are errors; a failed operation is a Result with OK false.
func (c *Client) call(ctx context.Context, op string, args, data any) (sbox.Result, error) {
	body := []byte("{}")
	if args != nil {
		var err error
		if body, err = json.Marshal(args); err != nil {
			return sbox.Result{}, fmt.Errorf("encoding %s arguments: %w", op, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/rpc/"+op, bytes.NewReader(body))
	if err != nil {
		return sbox.Result{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(server.RequestIDHeader, uuid.NewString())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return sbox.Result{}, fmt.Errorf("calling %s: %w (is the daemon running?)", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return sbox.Result{}, fmt.Errorf("reading %s response: %w", op, err)
	}
	var env server.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return sbox.Result{}, fmt.Errorf("%s: HTTP %d: unexpected response %q", op, resp.StatusCode, truncate(string(raw), 200))
	}
	if env.OK && data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			return sbox.Result{}, fmt.Errorf("decoding %s data: %w", op, err)
		}
	}
	return env.Result(), nil
}

// query runs an operation that returns data and folds a failed Result
// into the error.
func (c *Client) query(ctx context.Context, op string, data any) error {
	res, err := c.call(ctx, op, nil, data)
	if err != nil {
		return err
	}
	return res.Err()
}

// Info fetches the sing-box status.
func (c *Client) Info(ctx context.Context) (sbox.Info, error) {
	var info sbox.Info
	err := c.query(ctx, server.OpInfo, &info)
	return info, err
}

// List fetches every profile.
func (c *Client) List(ctx context.Context) ([]sbox.Profile, error) {
	var profiles []sbox.Profile
	err := c.query(ctx, server.OpList, &profiles)
	return profiles, err
}

// Download stores src as profile name.
func (c *Client) Download(ctx context.Context, name, src string) (sbox.Result, error) {
	return c.call(ctx, server.OpDownload, server.DownloadArgs{Name: name, Source: src}, nil)
}

// Refresh re-acquires profile name.
func (c *Client) Refresh(ctx context.Context, name string) (sbox.Result, error) {
	return c.call(ctx, server.OpRefresh, server.NameArgs{Name: name}, nil)
}

// Select selects or deselects profile name.
func (c *Client) Select(ctx context.Context, name string, selected bool) (sbox.Result, error) {
	return c.call(ctx, server.OpUpdate, server.UpdateArgs{Name: name, Field: "selected", Value: selected}, nil)
}

// Delete removes profile name.
func (c *Client) Delete(ctx context.Context, name string) (sbox.Result, error) {
	return c.call(ctx, server.OpDelete, server.NameArgs{Name: name}, nil)
}

// Toggle switches sing-box on or off.
func (c *Client) Toggle(ctx context.Context, on bool) (sbox.Result, error) {
	return c.call(ctx, server.OpToggle, server.ToggleArgs{On: &on}, nil)
}

// Health checks that the daemon answers.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", c.BaseURL, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon health check: HTTP %d", resp.StatusCode)
	}
	return nil
}

// Poll calls fn immediately and then every interval until ctx is done or
// fn returns an error.
func Poll(ctx context.Context, interval time.Duration, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				return err
			}
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
