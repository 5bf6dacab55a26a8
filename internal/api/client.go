// Package api is the typed client for the scan backend: recognition
// submission, job control, log storage, and the active-job query. All
// calls carry the injected session token and classify failures into
// api.Error kinds at this boundary.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"trackscan/internal/scan"
)

// DefaultTimeout bounds every collaborator call. Distinct from (and
// shorter than) typical transport defaults so a hung status poll surfaces
// as a retryable error instead of a silent stall.
const DefaultTimeout = 25 * time.Second

// Client talks to the scan backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        zerolog.Logger
}

// New creates a Client. timeout <= 0 selects DefaultTimeout.
func New(baseURL, token string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "api").Logger(),
	}
}

// SubmitSnippet sends one encoded snippet to the recognition endpoint and
// returns the ranked match list. Retries once when the recognition
// service throttles us.
func (c *Client) SubmitSnippet(ctx context.Context, name string, wavData []byte) ([]scan.Match, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("sample", name)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: "failed to build upload form", cause: err}
	}
	if _, err := part.Write(wavData); err != nil {
		return nil, &Error{Kind: KindValidation, Message: "failed to build upload form", cause: err}
	}
	if err := mw.Close(); err != nil {
		return nil, &Error{Kind: KindValidation, Message: "failed to build upload form", cause: err}
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/recognize", bytes.NewReader(body.Bytes()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		Matches []scan.Match `json:"matches"`
	}
	if err := c.doRetryOnThrottle(req, body.Bytes(), &out); err != nil {
		return nil, err
	}
	if len(out.Matches) == 0 {
		return nil, &Error{Kind: KindNoResult, Message: "no matches for " + name}
	}
	return out.Matches, nil
}

// JobInput describes a batch-capable submission.
type JobInput struct {
	Type         scan.JobType `json:"type"`
	SourceURL    string       `json:"source_url,omitempty"`
	SnippetNames []string     `json:"snippet_names,omitempty"`
}

// SubmitResult is the two-shaped response of CreateJob: batch-capable
// inputs yield a Job to track, everything else resolves synchronously
// into a single log entry. Exactly one field is set.
type SubmitResult struct {
	Job    *scan.Job      `json:"job,omitempty"`
	Single *scan.LogEntry `json:"log,omitempty"`
}

// CreateJob registers a new scan operation. Callers must branch on the
// result shape.
func (c *Client) CreateJob(ctx context.Context, input JobInput) (*SubmitResult, error) {
	var out SubmitResult
	if err := c.doJSON(ctx, http.MethodPost, "/v1/jobs", input, &out); err != nil {
		return nil, err
	}
	if out.Job == nil && out.Single == nil {
		return nil, &Error{Kind: KindUpstream, Message: "backend returned neither job nor log entry"}
	}
	return &out, nil
}

// UploadJobFile attaches one snippet file to a pending-upload job.
func (c *Client) UploadJobFile(ctx context.Context, jobID, name string, data []byte) error {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return &Error{Kind: KindValidation, Message: "failed to build upload form", cause: err}
	}
	if _, err := part.Write(data); err != nil {
		return &Error{Kind: KindValidation, Message: "failed to build upload form", cause: err}
	}
	if err := mw.Close(); err != nil {
		return &Error{Kind: KindValidation, Message: "failed to build upload form", cause: err}
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/jobs/"+jobID+"/files", bytes.NewReader(body.Bytes()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, nil)
}

// CompleteUpload tells the backend all snippet files for the job have
// been sent, moving it from uploading to queued.
func (c *Client) CompleteUpload(ctx context.Context, jobID string) (*scan.Job, error) {
	return c.jobCall(ctx, jobID, "complete-upload")
}

// JobStatus fetches the current job snapshot.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*scan.Job, error) {
	var job scan.Job
	if err := c.doJSON(ctx, http.MethodGet, "/v1/jobs/"+jobID, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// PauseJob asks the backend to pause item processing.
func (c *Client) PauseJob(ctx context.Context, jobID string) (*scan.Job, error) {
	return c.jobCall(ctx, jobID, "pause")
}

// ResumeJob restarts a paused or credit-stalled job.
func (c *Client) ResumeJob(ctx context.Context, jobID string) (*scan.Job, error) {
	return c.jobCall(ctx, jobID, "resume")
}

// AbortJob stops the job server-side. Fire-and-forget from the client's
// perspective; the returned snapshot is best-effort.
func (c *Client) AbortJob(ctx context.Context, jobID string) (*scan.Job, error) {
	return c.jobCall(ctx, jobID, "abort")
}

func (c *Client) jobCall(ctx context.Context, jobID, action string) (*scan.Job, error) {
	var job scan.Job
	if err := c.doJSON(ctx, http.MethodPost, "/v1/jobs/"+jobID+"/"+action, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ActiveJob returns the session's in-flight job, or nil when there is
// none. Used on mount so a reload never drops an in-flight batch.
func (c *Client) ActiveJob(ctx context.Context) (*scan.Job, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/jobs/active", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if err := classify(resp); err != nil {
		return nil, err
	}

	var job scan.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, &Error{Kind: KindUpstream, Message: "failed to decode active job", cause: err}
	}
	if job.ID == "" {
		return nil, nil
	}
	return &job, nil
}

// ListJobs returns all of the session's jobs.
func (c *Client) ListJobs(ctx context.Context) ([]scan.Job, error) {
	var jobs []scan.Job
	if err := c.doJSON(ctx, http.MethodGet, "/v1/jobs", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListLogs returns the full scan history.
func (c *Client) ListLogs(ctx context.Context) ([]scan.LogEntry, error) {
	var logs []scan.LogEntry
	if err := c.doJSON(ctx, http.MethodGet, "/v1/logs", nil, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// CreateLog stores a manually added entry.
func (c *Client) CreateLog(ctx context.Context, entry scan.LogEntry) (*scan.LogEntry, error) {
	var out scan.LogEntry
	if err := c.doJSON(ctx, http.MethodPost, "/v1/logs", entry, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteLog removes one entry.
func (c *Client) DeleteLog(ctx context.Context, logID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/logs/"+logID, nil, nil)
}

// DeleteAllLogs clears the history.
func (c *Client) DeleteAllLogs(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/logs", nil, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: "failed to create request", cause: err}
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &Error{Kind: KindValidation, Message: "failed to encode request", cause: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if err := classify(resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindUpstream, Message: "failed to decode response", cause: err}
	}
	return nil
}

// doRetryOnThrottle executes the request, retrying once after the
// advertised Retry-After when the recognition service throttles.
func (c *Client) doRetryOnThrottle(req *http.Request, body []byte, out any) error {
	err := c.do(req, out)
	if !IsKind(err, KindRateLimited) {
		return err
	}

	delay := time.Second
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.retryAfter > 0 {
		delay = apiErr.retryAfter
	}
	c.log.Debug().Dur("delay", delay).Msg("rate limited, retrying once")

	select {
	case <-req.Context().Done():
		return err
	case <-time.After(delay):
	}

	retry := req.Clone(req.Context())
	retry.Body = io.NopCloser(bytes.NewReader(body))
	return c.do(retry, out)
}

// classify maps a response to a typed error, or nil for success. This is
// the only place status codes are interpreted.
func classify(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg := readErrorMessage(resp.Body)
	e := &Error{Status: resp.StatusCode, Message: msg}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e.Kind = KindAuth
	case resp.StatusCode == http.StatusPaymentRequired:
		e.Kind = KindQuotaExhausted
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				e.retryAfter = time.Duration(secs) * time.Second
			}
		}
	case resp.StatusCode == http.StatusNotFound:
		e.Kind = KindNoResult
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		e.Kind = KindValidation
	default:
		e.Kind = KindUpstream
	}
	return e
}

func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	return string(bytes.TrimSpace(data))
}

func transportError(err error) error {
	return &Error{Kind: KindTransport, Message: fmt.Sprintf("request failed: %v", err), cause: err}
}
