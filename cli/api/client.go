package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type ServiceHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

type HealthStatus struct {
	Status      string          `json:"status"`
	Services    []ServiceHealth `json:"services"`
	Subscribers int             `json:"subscribers"`
}

type Trigger struct {
	Event      string `json:"event"`
	Ref        string `json:"ref"`
	SHA        string `json:"sha,omitempty"`
	Actor      string `json:"actor,omitempty"`
	Repository string `json:"repository,omitempty"`
}

type Image struct {
	Name       string `json:"name"`
	Repository string `json:"repository"`
	Tag        string `json:"tag"`
	Digest     string `json:"digest,omitempty"`
}

type StageLog struct {
	Stage      string `json:"stage"`
	Status     string `json:"status"`
	Kind       string `json:"kind,omitempty"`
	Error      string `json:"error,omitempty"`
	Output     string `json:"output,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

type Release struct {
	ID          string     `json:"id"`
	Trigger     Trigger    `json:"trigger"`
	ImageTag    string     `json:"imageTag,omitempty"`
	Images      []Image    `json:"images,omitempty"`
	Status      string     `json:"status"`
	Stages      []StageLog `json:"stages"`
	FailedStage string     `json:"failedStage,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

type ReleaseList struct {
	Releases []Release `json:"releases"`
	Total    int       `json:"total"`
}

type ReleaseQuery struct {
	Ref    string
	Status string
	Limit  int
}

func (c *Client) Health() (*HealthStatus, error) {
	var h HealthStatus
	if err := c.get("/api/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) ListReleases(q ReleaseQuery) (*ReleaseList, error) {
	v := url.Values{}
	if q.Ref != "" {
		v.Set("ref", q.Ref)
	}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/api/releases"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var list ReleaseList
	if err := c.get(path, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) GetRelease(id string) (*Release, error) {
	var r Release
	if err := c.get("/api/releases/"+url.PathEscape(id), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ReleaseLog returns the rendered stage event log of a release.
func (c *Client) ReleaseLog(id string) (string, error) {
	resp, err := c.do(http.MethodGet, "/api/releases/"+url.PathEscape(id)+"/events?format=text", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return string(b), err
}

// TriggerRelease queues a manual release and returns its ID.
func (c *Client) TriggerRelease(ref, sha string) (string, error) {
	var out struct {
		ReleaseID string `json:"releaseId"`
	}
	body := map[string]string{"ref": ref, "sha": sha}
	if err := c.send(http.MethodPost, "/api/releases", body, &out); err != nil {
		return "", err
	}
	return out.ReleaseID, nil
}

type ValidationFinding struct {
	Check    string `json:"check"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

type ValidationResult struct {
	App      string              `json:"app"`
	Errors   int                 `json:"errors"`
	Warnings int                 `json:"warnings"`
	Infos    int                 `json:"infos"`
	Findings []ValidationFinding `json:"findings"`
}

// Validate returns the server's findings. A failing validation is still a
// result, not an error.
func (c *Client) Validate() (*ValidationResult, error) {
	resp, err := c.request(http.MethodGet, "/api/validate", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnprocessableEntity {
		return nil, httpError(resp)
	}
	var result ValidationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

type CronState struct {
	Schedule  string `json:"schedule"`
	NextRunAt string `json:"nextRunAt,omitempty"`
	Paused    bool   `json:"paused,omitempty"`
}

func (c *Client) CronState() (*CronState, error) {
	var s CronState
	if err := c.get("/api/cron", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) CronTrigger() error { return c.send(http.MethodPost, "/api/cron/trigger", nil, nil) }
func (c *Client) CronPause() error   { return c.send(http.MethodPost, "/api/cron/pause", nil, nil) }
func (c *Client) CronResume() error  { return c.send(http.MethodPost, "/api/cron/resume", nil, nil) }

func (c *Client) CronSchedule(schedule string) error {
	return c.send(http.MethodPut, "/api/cron/schedule", map[string]string{"schedule": schedule}, nil)
}

func (c *Client) WebSocketURL() string {
	base := c.BaseURL
	base = strings.Replace(base, "http://", "ws://", 1)
	base = strings.Replace(base, "https://", "wss://", 1)
	return base + "/ws"
}

// AuthHeader is sent on the websocket handshake as well as API calls.
func (c *Client) AuthHeader() http.Header {
	h := http.Header{}
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
	}
	return h
}

func (c *Client) get(path string, v any) error {
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) send(method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	resp, err := c.do(method, path, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// do fails on any status of 400 and above.
func (c *Client) do(method, path string, body io.Reader) (*http.Response, error) {
	resp, err := c.request(method, path, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, httpError(resp)
	}
	return resp, nil
}

func (c *Client) request(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header = c.AuthHeader()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func httpError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}
