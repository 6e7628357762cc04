package amivoice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"koemuse-server/internal/platform/logging"
)

// ErrUnauthorized reports a rejected vendor credential (HTTP 401).
var ErrUnauthorized = fmt.Errorf("amivoice: invalid API key")

// VendorError carries a failure reported by the vendor itself, as opposed
// to a transport problem on our side.
type VendorError struct {
	Detail string
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("amivoice: analysis failed: %s", e.Detail)
}

// PollTimeoutError reports a job that never reached completed status within
// the bounded polling window.
type PollTimeoutError struct {
	Attempts   int
	LastStatus string
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("amivoice: job not completed after %d polls (last status %q)", e.Attempts, e.LastStatus)
}

// AsyncConfig holds settings for the asynchronous recognition job API.
type AsyncConfig struct {
	Endpoint     string
	APIKey       string
	PollInterval time.Duration
	PollAttempts int
}

// AsyncClient submits complete audio payloads to the asynchronous
// recognition job endpoint and polls for the result.
type AsyncClient struct {
	cfg        AsyncConfig
	httpClient *http.Client
	logger     *logging.Logger

	// sleep is swappable so tests do not serialize on real poll delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewAsyncClient builds a client for the job API.
func NewAsyncClient(cfg AsyncConfig, logger *logging.Logger) *AsyncClient {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 18
	}
	return &AsyncClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type submitResponse struct {
	SessionID string `json:"sessionid"`
}

// JobResult is the vendor's job status document.
type JobResult struct {
	Status   string       `json:"status"`
	Message  string       `json:"message"`
	Text     string       `json:"text"`
	Segments []JobSegment `json:"segments"`
}

type JobSegment struct {
	Text      string         `json:"text"`
	Sentiment []JobSentiment `json:"sentiment"`
}

type JobSentiment struct {
	Label string `json:"label"`
}

// FirstSentiment returns the first sentiment label found across result
// segments, or "neutral" when the vendor reported none.
func (r *JobResult) FirstSentiment() string {
	for _, segment := range r.Segments {
		if len(segment.Sentiment) > 0 && segment.Sentiment[0].Label != "" {
			return segment.Sentiment[0].Label
		}
	}
	return "neutral"
}

// SubmitJob uploads the audio file and creates a recognition job with
// sentiment analysis enabled. Returns the vendor session identifier.
func (c *AsyncClient) SubmitJob(ctx context.Context, filename string, audio []byte) (string, error) {
	domain := strings.Join([]string{
		"grammarFileNames=" + url.QueryEscape("-a-general"),
		"contentId=" + url.QueryEscape(filename),
		"sentimentAnalysis=" + url.QueryEscape("True"),
	}, " ")

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("u", c.cfg.APIKey); err != nil {
		return "", fmt.Errorf("amivoice: build request: %w", err)
	}
	if err := writer.WriteField("d", domain); err != nil {
		return "", fmt.Errorf("amivoice: build request: %w", err)
	}
	part, err := writer.CreateFormFile("a", filename)
	if err != nil {
		return "", fmt.Errorf("amivoice: build request: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("amivoice: build request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("amivoice: build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("amivoice: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("amivoice: submit job: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("amivoice: read submit response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return "", ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return "", &VendorError{Detail: fmt.Sprintf("job creation failed (HTTP %d): %s", resp.StatusCode, string(payload))}
	}

	var submitted submitResponse
	if err := json.Unmarshal(payload, &submitted); err != nil {
		return "", &VendorError{Detail: fmt.Sprintf("malformed job creation response: %s", string(payload))}
	}
	if submitted.SessionID == "" {
		return "", &VendorError{Detail: fmt.Sprintf("job creation response missing sessionid: %s", string(payload))}
	}

	c.logger.InfoTag("ASR", "recognition job submitted, session %s", submitted.SessionID)
	return submitted.SessionID, nil
}

// PollJob queries the job status at the configured interval until the job
// completes, the vendor reports an error, the attempt budget is spent, or
// the context ends. The sleep comes before each poll, matching the
// vendor's guidance to give the job time to start.
func (c *AsyncClient) PollJob(ctx context.Context, sessionID string) (*JobResult, error) {
	lastStatus := ""
	for attempt := 1; attempt <= c.cfg.PollAttempts; attempt++ {
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return nil, err
		}

		result, err := c.fetchStatus(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		lastStatus = result.Status

		switch result.Status {
		case "completed":
			c.logger.InfoTag("ASR", "job %s completed on poll %d", sessionID, attempt)
			return result, nil
		case "error":
			detail := result.Message
			if detail == "" {
				detail = "no detail reported"
			}
			return nil, &VendorError{Detail: detail}
		}
	}

	return nil, &PollTimeoutError{Attempts: c.cfg.PollAttempts, LastStatus: lastStatus}
}

func (c *AsyncClient) fetchStatus(ctx context.Context, sessionID string) (*JobResult, error) {
	statusURL := strings.TrimRight(c.cfg.Endpoint, "/") + "/" + sessionID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, fmt.Errorf("amivoice: build status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("amivoice: poll job: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("amivoice: read status response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &VendorError{Detail: fmt.Sprintf("status request failed (HTTP %d): %s", resp.StatusCode, string(payload))}
	}

	var result JobResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, &VendorError{Detail: fmt.Sprintf("malformed status response: %s", string(payload))}
	}
	return &result, nil
}
