// Package remote talks to a volt cache server.
//
// Every call is one HTTP round trip against /{route}/{slot}. Transport
// failures are retried with exponential backoff; unexpected status codes are
// protocol errors and are returned immediately.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/theMackabu/volt/internal/errs"
	"github.com/theMackabu/volt/internal/retry"
	"github.com/theMackabu/volt/internal/telemetry"
)

// HashHeader carries the fingerprint on pull, check and push.
const HashHeader = "X-Volt-Hash"

const (
	DefaultAttempts = 3
	DefaultTimeout  = 10 * time.Minute
)

// Endpoint locates the server.
type Endpoint interface {
	Authenticator
	URL(route string, slot uuid.UUID) string
}

// Result is the server's answer to a conditional request.
type Result int

const (
	NotFound    Result = iota // no entry stored for the slot
	Modified                  // entry differs from the fingerprint
	NotModified               // entry matches the fingerprint
)

func (r Result) String() string {
	switch r {
	case NotModified:
		return "not modified"
	case Modified:
		return "modified"
	}
	return "not found"
}

type Options struct {
	// HTTPClient defaults to a client with DefaultTimeout and a traced
	// transport.
	HTTPClient *http.Client
	Attempts   int
	Base       time.Duration
}

// Client issues requests for one slot.
type Client struct {
	http     *http.Client
	endpoint Endpoint
	slot     uuid.UUID
	policy   retry.Policy
}

func New(endpoint Endpoint, slot uuid.UUID, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout:   DefaultTimeout,
			Transport: telemetry.Transport(nil),
		}
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	return &Client{
		http:     hc,
		endpoint: endpoint,
		slot:     slot,
		policy: retry.Policy{
			Attempts: attempts,
			Base:     opts.Base,
			Retry:    errs.Retriable,
		},
	}
}

// Pull asks for the archive unless fingerprint matches the stored one. The
// body is read completely before returning.
func (c *Client) Pull(ctx context.Context, fingerprint string) (Result, []byte, error) {
	type reply struct {
		result Result
		body   []byte
	}
	r, err := retry.Do(ctx, c.policy, func(ctx context.Context) (reply, error) {
		req, err := c.request(ctx, http.MethodGet, "pull", fingerprint, nil)
		if err != nil {
			return reply{}, err
		}
		resp, err := c.do(req)
		if err != nil {
			return reply{}, err
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusNotModified:
			return reply{result: NotModified}, nil
		case http.StatusNotFound:
			return reply{result: NotFound}, nil
		case http.StatusOK:
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return reply{}, errs.Errorf(errs.Transport, "pull", "read archive: %w", err)
			}
			return reply{result: Modified, body: body}, nil
		}
		return reply{}, unexpected("pull", resp)
	})
	return r.result, r.body, err
}

// Push uploads archive as the slot's entry.
func (c *Client) Push(ctx context.Context, archive []byte, fingerprint string) error {
	_, err := retry.Do(ctx, c.policy, func(ctx context.Context) (struct{}, error) {
		req, err := c.request(ctx, http.MethodPost, "push", fingerprint, archive)
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		resp, err := c.do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return struct{}{}, unexpected("push", resp)
		}
		return struct{}{}, nil
	})
	return err
}

// Check compares fingerprint with the stored one without a transfer.
func (c *Client) Check(ctx context.Context, fingerprint string) (Result, error) {
	return retry.Do(ctx, c.policy, func(ctx context.Context) (Result, error) {
		req, err := c.request(ctx, http.MethodGet, "check", fingerprint, nil)
		if err != nil {
			return NotFound, err
		}
		resp, err := c.do(req)
		if err != nil {
			return NotFound, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch resp.StatusCode {
		case http.StatusNotModified:
			return NotModified, nil
		case http.StatusOK:
			return Modified, nil
		case http.StatusNotFound:
			return NotFound, nil
		}
		return NotFound, unexpected("check", resp)
	})
}

// Health returns the slot id echoed by the server.
func (c *Client) Health(ctx context.Context) (string, error) {
	return retry.Do(ctx, c.policy, func(ctx context.Context) (string, error) {
		req, err := c.request(ctx, http.MethodGet, "health", "", nil)
		if err != nil {
			return "", err
		}
		resp, err := c.do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", unexpected("health", resp)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		if err != nil {
			return "", errs.Errorf(errs.Transport, "health", "read body: %w", err)
		}
		return string(body), nil
	})
}

func (c *Client) request(ctx context.Context, method, route, fingerprint string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint.URL(route, c.slot), r)
	if err != nil {
		return nil, errs.E(errs.Configuration, route, err)
	}
	authorize(req, c.endpoint)
	if fingerprint != "" {
		req.Header.Set(HashHeader, fingerprint)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Errorf(errs.Transport, req.Method+" "+req.URL.Path, "unable to connect, is the server up? %w", err)
	}
	return resp, nil
}

func unexpected(op string, resp *http.Response) error {
	return errs.E(errs.Protocol, op, fmt.Errorf("unexpected status %s", resp.Status))
}
