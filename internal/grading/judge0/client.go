package judge0

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"classjudge/internal/grading/model"
	appErr "classjudge/pkg/errors"

	"github.com/zeromicro/go-zero/rest/httpc"
)

const (
	defaultTimeout     = 30 * time.Second
	maxErrorBodyBytes  = 2048
	batchResultFields  = "token,status_id,compile_output"
	singleResultFields = "status,stdout,stderr,compile_output,message"
	authTokenHeader    = "X-Auth-Token"
	serviceNamePrefix  = "judge0"
)

// Config holds judge connection settings.
type Config struct {
	BaseURL   string        `yaml:"baseURL"`
	AuthToken string        `yaml:"authToken"`
	Timeout   time.Duration `yaml:"timeout"`
	// MaxBatchSize mirrors the judge's per-request batch limit. Problems with
	// more test cases are rejected before any request is sent. Zero disables the check.
	MaxBatchSize int `yaml:"maxBatchSize"`
}

// Assignment pairs a judge token with the test case it runs.
type Assignment struct {
	Token      string
	TestCaseID int64
}

// BatchResult is the current state of one run as reported by a batch query.
type BatchResult struct {
	Token         string
	Status        model.Status
	RawStatusID   int
	CompileOutput string
}

// RunDetail is the full decoded state of one run.
type RunDetail struct {
	Status        model.Status
	RawStatusID   int
	Description   string
	Stdout        string
	Stderr        string
	CompileOutput string
	Message       string
}

// Client talks to the judge over HTTP. It holds no state besides the transport.
type Client struct {
	baseURL      *url.URL
	service      httpc.Service
	authToken    string
	maxBatchSize int
}

// NewClient creates a judge client. Requests go through a go-zero http service
// so a failing judge trips a circuit breaker instead of piling up requests.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("judge base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse judge base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:      base,
		service:      httpc.NewServiceWithClient(serviceNamePrefix+":"+base.Host, httpClient),
		authToken:    cfg.AuthToken,
		maxBatchSize: cfg.MaxBatchSize,
	}, nil
}

type submissionRequest struct {
	SourceCode     string  `json:"source_code"`
	LanguageID     int     `json:"language_id"`
	Stdin          string  `json:"stdin"`
	ExpectedOutput string  `json:"expected_output"`
	CPUTimeLimit   float64 `json:"cpu_time_limit"`
	MemoryLimit    int64   `json:"memory_limit"`
}

type batchRequest struct {
	Submissions []submissionRequest `json:"submissions"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// SubmitBatch sends one run per test case of problem in a single request and
// returns the tokens paired with test cases by position. Either every test
// case gets a token or the call fails.
func (c *Client) SubmitBatch(ctx context.Context, submission *model.Submission, problem *model.Problem) ([]Assignment, error) {
	if submission == nil || problem == nil {
		return nil, fmt.Errorf("submission and problem are required")
	}
	if len(problem.TestCases) == 0 {
		return nil, appErr.Newf(appErr.TestCaseNotFound, "problem %d has no test cases", problem.ID)
	}
	if c.maxBatchSize > 0 && len(problem.TestCases) > c.maxBatchSize {
		return nil, appErr.Newf(appErr.JudgeBadResponse, "problem %d has %d test cases, judge batch limit is %d",
			problem.ID, len(problem.TestCases), c.maxBatchSize)
	}

	payload := batchRequest{Submissions: make([]submissionRequest, 0, len(problem.TestCases))}
	for _, tc := range problem.TestCases {
		payload.Submissions = append(payload.Submissions, submissionRequest{
			SourceCode:     submission.SourceCode,
			LanguageID:     model.LanguageC,
			Stdin:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
			CPUTimeLimit:   float64(problem.TimeLimitMS) / 1000,
			MemoryLimit:    problem.MemoryLimitKB,
		})
	}

	var tokens []tokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/submissions/batch", nil, payload, &tokens); err != nil {
		return nil, err
	}
	if len(tokens) != len(problem.TestCases) {
		return nil, appErr.Newf(appErr.JudgeUnavailable, "judge returned %d tokens for %d test cases", len(tokens), len(problem.TestCases))
	}

	out := make([]Assignment, 0, len(tokens))
	for i, tok := range tokens {
		if tok.Token == "" {
			return nil, appErr.Newf(appErr.JudgeUnavailable, "judge returned an empty token at position %d", i)
		}
		out = append(out, Assignment{Token: tok.Token, TestCaseID: problem.TestCases[i].ID})
	}
	return out, nil
}

type batchResultResponse struct {
	Submissions []struct {
		Token         string  `json:"token"`
		StatusID      int     `json:"status_id"`
		CompileOutput *string `json:"compile_output"`
	} `json:"submissions"`
}

// FetchBatchResults returns the current state of every token, decoded.
func (c *Client) FetchBatchResults(ctx context.Context, tokens []string) ([]BatchResult, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	query := url.Values{}
	query.Set("tokens", strings.Join(tokens, ","))
	query.Set("base64_encoded", "true")
	query.Set("fields", batchResultFields)

	var resp batchResultResponse
	if err := c.doJSON(ctx, http.MethodGet, "/submissions/batch", query, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]BatchResult, 0, len(resp.Submissions))
	for _, item := range resp.Submissions {
		compileOutput, err := decodeField(item.CompileOutput)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.JudgeBadResponse, "decode compile output for token %s", item.Token)
		}
		out = append(out, BatchResult{
			Token:         item.Token,
			Status:        model.Lookup(item.StatusID).Status,
			RawStatusID:   item.StatusID,
			CompileOutput: compileOutput,
		})
	}
	return out, nil
}

type singleResultResponse struct {
	Status struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
	Stdout        *string `json:"stdout"`
	Stderr        *string `json:"stderr"`
	CompileOutput *string `json:"compile_output"`
	Message       *string `json:"message"`
}

// FetchSingle returns the full decoded detail of one run.
func (c *Client) FetchSingle(ctx context.Context, token string) (*RunDetail, error) {
	if token == "" {
		return nil, fmt.Errorf("token is required")
	}
	query := url.Values{}
	query.Set("base64_encoded", "true")
	query.Set("fields", singleResultFields)

	var resp singleResultResponse
	if err := c.doJSON(ctx, http.MethodGet, "/submissions/"+url.PathEscape(token), query, nil, &resp); err != nil {
		return nil, err
	}

	detail := &RunDetail{
		Status:      model.Lookup(resp.Status.ID).Status,
		RawStatusID: resp.Status.ID,
		Description: resp.Status.Description,
	}
	fields := []struct {
		name string
		raw  *string
		dst  *string
	}{
		{"stdout", resp.Stdout, &detail.Stdout},
		{"stderr", resp.Stderr, &detail.Stderr},
		{"compile_output", resp.CompileOutput, &detail.CompileOutput},
		{"message", resp.Message, &detail.Message},
	}
	for _, f := range fields {
		decoded, err := decodeField(f.raw)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.JudgeBadResponse, "decode %s for token %s", f.name, token)
		}
		*f.dst = decoded
	}
	return detail, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	target := *c.baseURL
	target.Path = c.baseURL.Path + path
	if query != nil {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode judge request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("build judge request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set(authTokenHeader, c.authToken)
	}

	resp, err := c.service.DoRequest(req)
	if err != nil {
		return appErr.Wrapf(err, appErr.JudgeUnavailable, "judge %s %s failed", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return appErr.Newf(appErr.JudgeUnavailable, "judge %s %s returned %d", method, path, resp.StatusCode).
			WithDetail("status", resp.StatusCode).
			WithDetail("body", string(snippet))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return appErr.Wrapf(err, appErr.JudgeUnavailable, "decode judge %s %s response", method, path)
	}
	return nil
}

// decodeField decodes a base64 text field. The judge wraps long values with
// newlines, which are stripped before decoding. A null field decodes to "".
func decodeField(raw *string) (string, error) {
	if raw == nil || *raw == "" {
		return "", nil
	}
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, *raw)
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
