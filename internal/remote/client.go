package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/myclass/attendsync/internal/session"
)

// DefaultTimeout bounds each remote call when the caller gives none.
const DefaultTimeout = 10 * time.Second

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client talks to the remote session service over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a client for the service at baseURL. token is sent as a
// bearer token when non-empty.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Create implements Service.
func (c *Client) Create(ctx context.Context, s *session.Session) (string, error) {
	var resp CreateResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", nil, NewCreateRequest(s), &resp); err != nil {
		return "", err
	}
	if !resp.OK || resp.SessionID == "" {
		if resp.Message != "" {
			return "", fmt.Errorf("%w: %s", ErrRejected, resp.Message)
		}
		return "", ErrRejected
	}
	return resp.SessionID, nil
}

// List implements Service.
func (c *Client) List(ctx context.Context, owner string, r *DateRange) ([]*session.Session, error) {
	q := url.Values{}
	q.Set("markedBy", owner)
	if r != nil {
		q.Set("startDate", r.Start.UTC().Format(time.RFC3339Nano))
		q.Set("endDate", r.End.UTC().Format(time.RFC3339Nano))
	}

	var records []SessionRecord
	if err := c.do(ctx, http.MethodGet, "/v1/sessions", q, nil, &records); err != nil {
		return nil, err
	}
	out := make([]*session.Session, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Session())
	}
	return out, nil
}

// Delete implements Service.
func (c *Client) Delete(ctx context.Context, id string) error {
	var resp DeleteResponse
	if err := c.do(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("delete %s: service answered ok=false", id)
	}
	return nil
}

// DeleteAllByOwner implements Service.
func (c *Client) DeleteAllByOwner(ctx context.Context, owner string) error {
	q := url.Values{}
	q.Set("markedBy", owner)
	var resp DeleteResponse
	if err := c.do(ctx, http.MethodDelete, "/v1/sessions", q, nil, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("delete sessions of %s: service answered ok=false", owner)
	}
	return nil
}

// do sends one JSON request and decodes the JSON answer into out.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
