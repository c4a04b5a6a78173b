// Package jira is the thin REST adapter jx needs: connect, list project versions,
// run a JQL search to exhaustion and fetch sprint details.
package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jirametrics/jx/internal/types"
)

var (
	// ErrUnauthorized is returned for 401/403 responses.
	ErrUnauthorized = errors.New("jira: unauthorized")
	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("jira: not found")
)

const defaultPageSize = 100

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("jira: %s %s: %d %s: %s", e.Method, e.Path, e.Code, http.StatusText(e.Code), body)
}

func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// Options configures a Client.
type Options struct {
	Timeout  time.Duration
	PageSize int
}

// Client talks to one JIRA server with basic auth.
type Client struct {
	host     string
	user     string
	pass     string
	pageSize int
	client   *http.Client
}

// NewClient creates a client without contacting the server.
func NewClient(host, user, pass string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	return &Client{
		host:     strings.TrimRight(host, "/"),
		user:     user,
		pass:     pass,
		pageSize: opts.PageSize,
		client:   &http.Client{Timeout: opts.Timeout},
	}
}

// Connect creates a client and verifies the credentials against /myself.
func Connect(ctx context.Context, host, user, pass string, opts Options) (*Client, error) {
	c := NewClient(host, user, pass, opts)
	if err := c.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.host, err)
	}
	return c, nil
}

// BaseURL returns the server URL.
func (c *Client) BaseURL() string {
	return c.host
}

// Ping checks that the server answers and accepts the credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "/rest/api/2/myself")
	return err
}

// ProjectVersions lists every version of a project in server order.
func (c *Client) ProjectVersions(ctx context.Context, projectKey string) ([]types.Version, error) {
	body, err := c.get(ctx, "/rest/api/2/project/"+url.PathEscape(projectKey)+"/versions")
	if err != nil {
		return nil, err
	}

	var raw []struct {
		types.Version
		ProjectID json.Number `json:"projectId"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding versions of %s: %w", projectKey, err)
	}
	versions := make([]types.Version, len(raw))
	for i, r := range raw {
		versions[i] = r.Version
		versions[i].ProjectID, _ = r.ProjectID.Int64()
	}
	return versions, nil
}

// Search runs a JQL query and pages through every match.
func (c *Client) Search(ctx context.Context, jql string) ([]json.RawMessage, error) {
	var issues []json.RawMessage
	startAt := 0
	for {
		body, err := c.post(ctx, "/rest/api/2/search", map[string]any{
			"jql":        jql,
			"startAt":    startAt,
			"maxResults": c.pageSize,
			"fields":     []string{"*all"},
		})
		if err != nil {
			return nil, err
		}
		if !gjson.ValidBytes(body) {
			return nil, fmt.Errorf("search %q: invalid JSON response", jql)
		}

		page := gjson.GetBytes(body, "issues").Array()
		for _, issue := range page {
			issues = append(issues, json.RawMessage(issue.Raw))
		}

		startAt += len(page)
		if len(page) == 0 {
			return issues, nil
		}
		if total := gjson.GetBytes(body, "total"); total.Exists() {
			if startAt >= int(total.Int()) {
				return issues, nil
			}
			continue
		}
		// Without a total, a short page is the last one.
		limit := c.pageSize
		if m := gjson.GetBytes(body, "maxResults"); m.Exists() && m.Int() > 0 {
			limit = int(m.Int())
		}
		if len(page) < limit {
			return issues, nil
		}
	}
}

// Sprint fetches the detail record of one sprint.
func (c *Client) Sprint(ctx context.Context, id int64) (*types.Sprint, error) {
	body, err := c.get(ctx, "/rest/agile/1.0/sprint/"+strconv.FormatInt(id, 10))
	if err != nil {
		return nil, err
	}
	var s types.Sprint
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("decoding sprint %d: %w", id, err)
	}
	if s.ID == 0 {
		s.ID = id
	}
	return &s, nil
}

func (c *Client) get(ctx context.Context, p string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+p, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, p)
}

func (c *Client) post(ctx context.Context, p string, payload any) ([]byte, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+p, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, p)
}

func (c *Client) do(req *http.Request, p string) ([]byte, error) {
	c.addAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	if resp.StatusCode >= 400 {
		return nil, &StatusError{Method: req.Method, Path: p, Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func (c *Client) addAuth(req *http.Request) {
	if c.user != "" || c.pass != "" {
		token := base64.StdEncoding.EncodeToString([]byte(c.user + ":" + c.pass))
		req.Header.Set("Authorization", "Basic "+token)
	}
	req.Header.Set("Accept", "application/json")
}
