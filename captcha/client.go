// Package captcha talks to a createTask / getTaskResult solving provider
// (2captcha, anti-captcha and compatibles).
package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrTimeout  = errors.New("captcha was not solved in time")
	ErrProvider = errors.New("captcha provider error")
)

type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("captcha provider error %s: %s", e.Code, e.Description)
}

func (e *ProviderError) Unwrap() error {
	return ErrProvider
}

type State int

const (
	Processing State = iota
	Ready
	Failed
)

// PollResult is the outcome of a single getTaskResult call.
type PollResult struct {
	State  State
	Token  string
	Reason error
}

const (
	DefaultURL          = "https://api.2captcha.com"
	DefaultPollInterval = 3 * time.Second
	DefaultMaxPolls     = 60
	DefaultTaskType     = "RecaptchaV2TaskProxyless"
)

type Client struct {
	BaseURL      string
	TaskType     string
	PollInterval time.Duration
	MaxPolls     int

	HTTPClient *http.Client
	Sleep      func(ctx context.Context, d time.Duration) error
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		TaskType:     DefaultTaskType,
		PollInterval: DefaultPollInterval,
		MaxPolls:     DefaultMaxPolls,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		Sleep:        sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type task struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL"`
	WebsiteKey string `json:"websiteKey"`
}

type createTaskRequest struct {
	ClientKey string `json:"clientKey"`
	Task      task   `json:"task"`
}

type taskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

type response struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           int64  `json:"taskId"`
	Status           string `json:"status"`
	Solution         struct {
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
		Token              string `json:"token"`
	} `json:"solution"`
}

func (c *Client) post(ctx context.Context, path string, body any) (*response, error) {
	j, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("could not marshal request: %w", err)
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(j))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")

	rsp, err := c.HTTPClient.Do(r)
	if err != nil {
		return nil, fmt.Errorf("could not execute request: %w", err)
	}
	defer rsp.Body.Close()

	raw, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}
	if rsp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Code: rsp.Status, Description: string(raw)}
	}

	var res response
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}
	if res.ErrorID != 0 {
		return nil, &ProviderError{Code: res.ErrorCode, Description: res.ErrorDescription}
	}
	return &res, nil
}

func (c *Client) submit(ctx context.Context, siteKey, pageURL, apiKey string) (int64, error) {
	res, err := c.post(ctx, "/createTask", &createTaskRequest{
		ClientKey: apiKey,
		Task: task{
			Type:       c.TaskType,
			WebsiteURL: pageURL,
			WebsiteKey: siteKey,
		},
	})
	if err != nil {
		return 0, err
	}
	if res.TaskID == 0 {
		return 0, &ProviderError{Code: "NO_TASK_ID", Description: "provider returned no task id"}
	}
	return res.TaskID, nil
}

// Poll asks the provider once for the result of taskID. Transport failures
// are reported as Processing so a single dropped request does not fail the solve.
func (c *Client) Poll(ctx context.Context, apiKey string, taskID int64) PollResult {
	res, err := c.post(ctx, "/getTaskResult", &taskResultRequest{ClientKey: apiKey, TaskID: taskID})
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) {
			return PollResult{State: Failed, Reason: err}
		}
		return PollResult{State: Processing, Reason: err}
	}

	if res.Status != "ready" {
		return PollResult{State: Processing}
	}

	token := res.Solution.GRecaptchaResponse
	if token == "" {
		token = res.Solution.Token
	}
	if token == "" {
		return PollResult{State: Failed, Reason: &ProviderError{Code: "EMPTY_SOLUTION", Description: "ready without token"}}
	}
	return PollResult{State: Ready, Token: token}
}

// Solve submits one task and polls it until it is ready, failed or the poll
// budget is spent.
func (c *Client) Solve(ctx context.Context, siteKey, pageURL, apiKey string) (string, error) {
	taskID, err := c.submit(ctx, siteKey, pageURL, apiKey)
	if err != nil {
		if errors.Is(err, ErrProvider) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrProvider, err)
	}

	logger := log.With().Int64("captcha_task", taskID).Str("page", pageURL).Logger()
	logger.Debug().Msg("captcha task submitted")

	for poll := 1; poll <= c.MaxPolls; poll++ {
		if err := c.Sleep(ctx, c.PollInterval); err != nil {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}

		res := c.Poll(ctx, apiKey, taskID)
		switch res.State {
		case Ready:
			logger.Debug().Int("polls", poll).Msg("captcha solved")
			return res.Token, nil
		case Failed:
			return "", res.Reason
		default:
			if res.Reason != nil {
				logger.Warn().Err(res.Reason).Int("poll", poll).Msg("captcha poll failed, retrying")
			}
		}
	}

	return "", ErrTimeout
}
