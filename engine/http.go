package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/songzhibin97/dolphin-sync/normalize"
)

// codeNotFound is the envelope code the engine uses for missing definitions.
const codeNotFound = 50003

const listPageSize = 100

// HTTPClientOptions configures an HTTPClient.
type HTTPClientOptions struct {
	BaseURL       string
	Token         string
	Timeout       time.Duration
	MaxRetries    uint64
	RetryInterval time.Duration
	Client        *http.Client
}

// HTTPClient talks to the engine's REST API.
type HTTPClient struct {
	baseURL       string
	token         string
	maxRetries    uint64
	retryInterval time.Duration
	client        *http.Client
	logger        *zap.Logger
}

// NewHTTPClient creates a client for the engine at opts.BaseURL,
// e.g. http://host:12345/dolphinscheduler.
func NewHTTPClient(opts HTTPClientOptions, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		token:         opts.Token,
		maxRetries:    opts.MaxRetries,
		retryInterval: opts.RetryInterval,
		client:        client,
		logger:        logger,
	}
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type page struct {
	TotalList json.RawMessage `json:"totalList"`
	TotalPage int             `json:"totalPage"`
}

// FetchLegacy issues the four legacy queries. A missing schedule is not an error.
func (c *HTTPClient) FetchLegacy(ctx context.Context, projectCode, workflowCode int64) (*normalize.LegacyPayload, error) {
	project := "/projects/" + strconv.FormatInt(projectCode, 10)
	code := strconv.FormatInt(workflowCode, 10)
	byWorkflow := url.Values{"processDefinitionCode": {code}}

	def, err := c.call(ctx, http.MethodGet, project+"/process-definition/"+code, nil)
	if err != nil {
		return nil, err
	}
	tasks, err := c.call(ctx, http.MethodGet, project+"/process-definition/"+code+"/tasks", nil)
	if err != nil {
		return nil, err
	}
	relations, err := c.call(ctx, http.MethodGet, project+"/process-task-relation", byWorkflow)
	if err != nil {
		return nil, err
	}
	schedule, err := c.call(ctx, http.MethodGet, project+"/schedules", url.Values{
		"processDefinitionCode": {code},
		"pageNo":                {"1"},
		"pageSize":              {"1"},
	})
	if err != nil {
		return nil, err
	}
	return &normalize.LegacyPayload{
		Definition: def,
		Tasks:      tasks,
		Relations:  relations,
		Schedule:   firstRow(schedule),
	}, nil
}

// FetchExport calls batch-export for one workflow. The export body is the
// document itself, not an envelope.
func (c *HTTPClient) FetchExport(ctx context.Context, projectCode, workflowCode int64) ([]byte, error) {
	path := "/projects/" + strconv.FormatInt(projectCode, 10) + "/process-definition/batch-export"
	query := url.Values{"codes": {strconv.FormatInt(workflowCode, 10)}}
	body, err := c.do(ctx, http.MethodPost, path, query)
	if err != nil {
		return nil, err
	}
	// Failures still come back as an envelope.
	var env envelope
	if json.Unmarshal(body, &env) == nil && env.Code != 0 && len(env.Data) == 0 {
		return nil, c.envelopeError(env)
	}
	return body, nil
}

// ListWorkflows pages through the project's workflow listing.
func (c *HTTPClient) ListWorkflows(ctx context.Context, projectCode int64) ([]WorkflowSummary, error) {
	path := "/projects/" + strconv.FormatInt(projectCode, 10) + "/process-definition"
	var out []WorkflowSummary
	for pageNo := 1; ; pageNo++ {
		data, err := c.call(ctx, http.MethodGet, path, url.Values{
			"pageNo":   {strconv.Itoa(pageNo)},
			"pageSize": {strconv.Itoa(listPageSize)},
		})
		if err != nil {
			return nil, err
		}
		var p page
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode workflow page: %w", err)
		}
		var rows []WorkflowSummary
		if len(p.TotalList) > 0 {
			if err := json.Unmarshal(p.TotalList, &rows); err != nil {
				return nil, fmt.Errorf("failed to decode workflow list: %w", err)
			}
		}
		for i := range rows {
			if rows[i].ProjectCode == 0 {
				rows[i].ProjectCode = projectCode
			}
		}
		out = append(out, rows...)
		if pageNo >= p.TotalPage || len(rows) == 0 {
			return out, nil
		}
	}
}

// call performs a request and unwraps the {code,msg,data} envelope.
func (c *HTTPClient) call(ctx context.Context, method, path string, query url.Values) (json.RawMessage, error) {
	body, err := c.do(ctx, method, path, query)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode engine response of %s: %w", path, err)
	}
	if env.Code != 0 {
		return nil, c.envelopeError(env)
	}
	return env.Data, nil
}

func (c *HTTPClient) envelopeError(env envelope) error {
	if env.Code == codeNotFound {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, env.Msg)
	}
	return fmt.Errorf("%w: code=%d msg=%s", ErrEngineResponse, env.Code, env.Msg)
}

// do sends one request, retrying transport errors and 5xx responses.
func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	exp := backoff.NewExponentialBackOff()
	if c.retryInterval > 0 {
		exp.InitialInterval = c.retryInterval
	}
	retryCfg := backoff.WithMaxRetries(
		backoff.WithContext(exp, ctx),
		c.maxRetries,
	)

	var body []byte
	err := backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, method, target, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("token", c.token)
		req.Header.Set("Accept", "application/json")
		resp, err := c.client.Do(req)
		if err != nil {
			c.logger.Warn("engine request failed", zap.String("path", path), zap.Error(err))
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			c.logger.Warn("engine unavailable", zap.String("path", path), zap.Int("status", resp.StatusCode))
			return fmt.Errorf("%w: %d", ErrEngineStatus, resp.StatusCode)
		}
		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrWorkflowNotFound, path))
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("%w: %d %s", ErrEngineStatus, resp.StatusCode, strings.TrimSpace(string(data))))
		}
		body = data
		return nil
	}, retryCfg)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// firstRow extracts the first element of a paged or plain list, or returns
// nil when there is none.
func firstRow(data json.RawMessage) json.RawMessage {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	var p page
	if json.Unmarshal(data, &p) == nil && len(p.TotalList) > 0 {
		data = p.TotalList
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return data
	}
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}
