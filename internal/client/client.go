// internal/client/client.go
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"

	"github.com/altuslabsxyz/binserve/internal/daemon/status"
	"github.com/altuslabsxyz/binserve/internal/daemon/store"
	"github.com/altuslabsxyz/binserve/internal/version"
)

// Client provides access to a binserved server.
type Client struct {
	baseURL string
	http    *http.Client
}

// Health is the server's liveness report.
type Health struct {
	Status   string   `json:"status"`
	Building []string `json:"building"`
	Cached   []string `json:"cached"`
}

// Download describes a fetched binary.
type Download struct {
	Name    string // file name suggested by the server
	BuildID string
	Size    int64
}

// New creates a client for server ("host:port" or a URL; empty = DefaultServer).
// Requests carry no timeout of their own since a download may wait for a
// build; bound them with the context.
func New(server string) *Client {
	return NewWithHTTPClient(server, &http.Client{})
}

// NewWithHTTPClient creates a client that sends requests with hc.
func NewWithHTTPClient(server string, hc *http.Client) *Client {
	return &Client{
		baseURL: normalizeServer(server),
		http:    hc,
	}
}

// Server returns the base URL requests are sent to.
func (c *Client) Server() string {
	return c.baseURL
}

// FetchBinary downloads the binary for target into w, waiting for the
// server to build it when needed.
func (c *Client) FetchBinary(ctx context.Context, target string, w io.Writer) (*Download, error) {
	resp, err := c.get(ctx, "/binary/"+url.PathEscape(target), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	dl := &Download{
		Name:    target,
		BuildID: resp.Header.Get("X-Build-Id"),
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		// Never trust a server-supplied path.
		dl.Name = path.Base(params["filename"])
	}

	n, err := io.Copy(w, resp.Body)
	dl.Size = n
	if err != nil {
		return dl, fmt.Errorf("failed to download %s: %w", target, err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return dl, fmt.Errorf("short download of %s: got %d of %d bytes", target, n, resp.ContentLength)
	}
	return dl, nil
}

// Status returns the progress snapshot of target.
func (c *Client) Status(ctx context.Context, target string) (*status.Snapshot, error) {
	var snap status.Snapshot
	if err := c.getJSON(ctx, "/status/"+url.PathEscape(target), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Builds lists recent build attempts, newest first. An empty target lists
// all targets; limit <= 0 uses the server default.
func (c *Client) Builds(ctx context.Context, target string, limit int) ([]*store.BuildRecord, error) {
	query := url.Values{}
	if target != "" {
		query.Set("target", target)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		Builds []*store.BuildRecord `json:"builds"`
	}
	if err := c.getJSON(ctx, "/builds", query, &resp); err != nil {
		return nil, err
	}
	return resp.Builds, nil
}

// Health returns the server's liveness report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.getJSON(ctx, "/healthz", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) getJSON(ctx context.Context, p string, query url.Values, v interface{}) error {
	resp, err := c.get(ctx, p, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", p, err)
	}
	return nil
}

// get issues a GET and returns the response when it is 2xx.
func (c *Client) get(ctx context.Context, p string, query url.Values) (*http.Response, error) {
	u := c.baseURL + p
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent("binserve"))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server unavailable at %s: %w", c.baseURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	return resp, nil
}
