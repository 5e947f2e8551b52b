// Package api is the HTTP client for the sync server: the sync endpoints
// (pull/push/status), the content endpoints queued actions are delivered to,
// and a reachability probe.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/syncbox/internal/changes"
	"github.com/dmitrijs2005/syncbox/internal/client/queue"
	"github.com/dmitrijs2005/syncbox/internal/common"
)

// StatusError is returned when the server answered with a non-success code.
// It is distinct from transport failures, which wrap
// common.ErrConnectivityUnavailable and trigger the offline fallback.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

type Client struct {
	baseURL     string
	accessToken string
	http        *http.Client
}

func New(baseURL, accessToken string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		http:        &http.Client{Timeout: 15 * time.Second},
	}
}

// do performs one request. Transport-level failures are wrapped in
// common.ErrConnectivityUnavailable; HTTP error statuses become StatusError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set(common.AuthorizationHeaderName, "Bearer "+c.accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrConnectivityUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrConnectivityUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Do performs a raw content-API request and returns the response body. The
// gateway uses this for online dispatch of arbitrary mutations and reads.
func (c *Client) Do(ctx context.Context, method, path string, payload json.RawMessage) (json.RawMessage, error) {
	var body json.RawMessage
	var in any
	if len(payload) > 0 {
		in = payload
	}
	if err := c.do(ctx, method, path, nil, in, &body); err != nil {
		return nil, err
	}
	return body, nil
}

// IssueToken requests a bearer token from the development token endpoint and
// installs it on the client for subsequent requests.
func (c *Client) IssueToken(ctx context.Context, userID string) (string, error) {
	req := map[string]string{"userId": userID}
	var resp struct {
		AccessToken string `json:"accessToken"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/token", nil, req, &resp); err != nil {
		return "", err
	}
	c.accessToken = resp.AccessToken
	return resp.AccessToken, nil
}

// Ping probes server reachability. It hits the unauthenticated health
// endpoint so an expired token does not look like an outage.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

// PullChanges fetches remote change-log entries newer than since, excluding
// those produced by this device.
func (c *Client) PullChanges(ctx context.Context, since int64, deviceID string) ([]changes.Record, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	q.Set("deviceId", deviceID)

	var recs []changes.Record
	if err := c.do(ctx, http.MethodGet, "/sync/changes", q, nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// PushChanges uploads a batch of local change-log entries.
func (c *Client) PushChanges(ctx context.Context, recs []changes.Record, deviceID string) (*changes.PushResponse, error) {
	req := changes.PushRequest{Changes: recs, DeviceID: deviceID}
	var resp changes.PushResponse
	if err := c.do(ctx, http.MethodPost, "/sync/changes", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status reports the server-side ledger state for this user and device.
func (c *Client) Status(ctx context.Context, deviceID string) (*changes.StatusResponse, error) {
	q := url.Values{}
	q.Set("deviceId", deviceID)

	var resp changes.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/sync/status", q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Apply delivers one queued action to its entity endpoint. It implements
// queue.Applier.
func (c *Client) Apply(ctx context.Context, a *queue.Action) error {
	collection, ok := changes.CollectionFor(a.EntityType)
	if !ok {
		return fmt.Errorf("%w: unknown entity type %q", common.ErrValidation, a.EntityType)
	}

	base := "/api/" + collection
	switch a.Operation {
	case changes.OpCreate:
		return c.do(ctx, http.MethodPost, base, nil, a.Payload, nil)
	case changes.OpUpdate:
		return c.do(ctx, http.MethodPut, base+"/"+url.PathEscape(a.EntityID), nil, a.Payload, nil)
	case changes.OpDelete:
		return c.do(ctx, http.MethodDelete, base+"/"+url.PathEscape(a.EntityID), nil, nil, nil)
	default:
		return fmt.Errorf("%w: unknown operation %q", common.ErrValidation, a.Operation)
	}
}
