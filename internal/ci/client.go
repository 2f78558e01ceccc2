package ci

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Server is the subset of the Jenkins REST API the bot relies on.
type Server interface {
	ListFolders(ctx context.Context) ([]string, error)
	ListJobs(ctx context.Context, folder string) ([]string, error)
	Parameters(ctx context.Context, jobPath string) (ParameterSet, error)
	TriggerBuild(ctx context.Context, jobPath string, params map[string]string) (int64, error)
	WhoAmI(ctx context.Context) (*Identity, error)
	WorkspaceFile(ctx context.Context, jobPath, name string) ([]byte, error)
	JobURL(jobPath string) string
}

type Credentials struct {
	ServerURL string
	UserID    string
	Token     string
}

type Identity struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
}

type Options struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Logger       *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		Timeout:      30 * time.Second,
		RetryMax:     2,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 3 * time.Second,
	}
}

// Client talks to one Jenkins server as one user.
type Client struct {
	base  *url.URL
	creds Credentials
	http  *retryablehttp.Client
}

var _ Server = (*Client)(nil)

func NewClient(creds Credentials, opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(creds.ServerURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidServerURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be http or https", ErrInvalidServerURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidServerURL)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	if opts.Timeout > 0 {
		rc.HTTPClient.Timeout = opts.Timeout
	}
	// Return the last response instead of a generic "giving up" error so the
	// status code can still be classified.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	if opts.Logger != nil {
		rc.Logger = opts.Logger
	}

	return &Client{base: base, creds: creds, http: rc}, nil
}

// JobURL renders "a/b" as {base}/job/a/job/b.
func (c *Client) JobURL(jobPath string) string {
	return c.base.String() + "/" + jobSegments(jobPath)
}

func (c *Client) ListFolders(ctx context.Context) ([]string, error) {
	var resp jobList
	if err := c.getJSON(ctx, c.base.String()+"/api/json?tree=jobs[name,_class]", &resp); err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}

	var folders []string
	for _, j := range resp.Jobs {
		if strings.Contains(strings.ToLower(j.Class), "folder") {
			folders = append(folders, j.Name)
		}
	}
	return folders, nil
}

func (c *Client) ListJobs(ctx context.Context, folder string) ([]string, error) {
	var resp jobList
	if err := c.getJSON(ctx, c.JobURL(folder)+"/api/json?tree=jobs[name,_class]", &resp); err != nil {
		return nil, fmt.Errorf("listing jobs in %s: %w", folder, err)
	}

	jobs := make([]string, 0, len(resp.Jobs))
	for _, j := range resp.Jobs {
		jobs = append(jobs, j.Name)
	}
	return jobs, nil
}

func (c *Client) Parameters(ctx context.Context, jobPath string) (ParameterSet, error) {
	var resp jobInfo
	if err := c.getJSON(ctx, c.JobURL(jobPath)+"/api/json?depth=2", &resp); err != nil {
		return nil, fmt.Errorf("fetching parameters for %s: %w", jobPath, err)
	}
	return resp.parameterSet(), nil
}

// TriggerBuild queues a parameterized build and returns the queue item id, or 0
// when Jenkins did not report one.
func (c *Client) TriggerBuild(ctx context.Context, jobPath string, params map[string]string) (int64, error) {
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.JobURL(jobPath)+"/buildWithParameters", strings.NewReader(form.Encode()))
	if err != nil {
		return 0, fmt.Errorf("building trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.creds.UserID, c.creds.Token)

	crumb, err := c.crumb(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching crumb: %w", err)
	}
	if crumb != nil {
		req.Header.Set(crumb.Field, crumb.Value)
	}

	// Triggers bypass the retrying client: a retried POST can queue a second build.
	resp, err := c.http.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("triggering %s: %w: %w", jobPath, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return 0, fmt.Errorf("triggering %s: %w", jobPath, newStatusError(resp.StatusCode, body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return queueItemID(resp.Header.Get("Location")), nil
}

func (c *Client) WhoAmI(ctx context.Context) (*Identity, error) {
	var id Identity
	if err := c.getJSON(ctx, c.base.String()+"/me/api/json", &id); err != nil {
		return nil, fmt.Errorf("fetching identity: %w", err)
	}
	return &id, nil
}

// WorkspaceFile reads a file from the job workspace (ws/).
func (c *Client) WorkspaceFile(ctx context.Context, jobPath, name string) ([]byte, error) {
	u := c.JobURL(jobPath) + "/ws/" + strings.TrimLeft(name, "/")
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("fetching workspace file %s: %w", name, err)
	}
	return body, nil
}

type crumb struct {
	Field string `json:"crumbRequestField"`
	Value string `json:"crumb"`
}

// crumb returns nil when CSRF protection is disabled on the server.
func (c *Client) crumb(ctx context.Context) (*crumb, error) {
	var cr crumb
	err := c.getJSON(ctx, c.base.String()+"/crumbIssuer/api/json", &cr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if cr.Field == "" || cr.Value == "" {
		return nil, nil
	}
	return &cr, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	body, err := c.get(ctx, u)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", redact(u), err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth(c.creds.UserID, c.creds.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w: %w", redact(u), ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w: %w", redact(u), ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError(resp.StatusCode, body)
	}
	return body, nil
}

func jobSegments(jobPath string) string {
	parts := strings.Split(strings.Trim(jobPath, "/"), "/")
	segs := make([]string, 0, len(parts)*2)
	for _, p := range parts {
		if p == "" {
			continue
		}
		segs = append(segs, "job", url.PathEscape(p))
	}
	return strings.Join(segs, "/")
}

// queueItemID extracts 123 from ".../queue/item/123/".
func queueItemID(location string) int64 {
	if location == "" {
		return 0
	}
	u, err := url.Parse(location)
	if err != nil {
		return 0
	}
	id, err := strconv.ParseInt(path.Base(strings.TrimRight(u.Path, "/")), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func redact(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}
