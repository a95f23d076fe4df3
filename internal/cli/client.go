package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/watzon/vine/internal/config"
	"github.com/watzon/vine/internal/scheduler"
	"github.com/watzon/vine/internal/server/handlers"
)

const apiPrefix = "/api/v1/scheduler"

// apiClient talks to the admin API of a running vine serve.
type apiClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func newAPIClient(cfg config.ClientConfig) (*apiClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("client.base_url is required (or set VINE_CLIENT_BASE_URL)")
	}
	return &apiClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *apiClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "marshaling request")
		}
		bodyReader = bytes.NewReader(data)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	return resp, nil
}

// doJSON performs the request and decodes a 2xx JSON body into out.
func (c *apiClient) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	resp, err := c.doRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return handleErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "parsing response")
	}
	return nil
}

func (c *apiClient) Status(ctx context.Context) (*scheduler.StatusView, error) {
	var view scheduler.StatusView
	if err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/status", nil, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Start starts the schedule. A zero interval lets the server pick its default.
func (c *apiClient) Start(ctx context.Context, intervalMinutes int) (*scheduler.StatusView, error) {
	var query url.Values
	if intervalMinutes != 0 {
		query = url.Values{"intervalMinutes": {strconv.Itoa(intervalMinutes)}}
	}

	var view scheduler.StatusView
	if err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/start", query, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *apiClient) Stop(ctx context.Context) (*scheduler.StatusView, error) {
	var view scheduler.StatusView
	if err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/stop", nil, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *apiClient) Configure(ctx context.Context, req handlers.ConfigRequest) (*scheduler.StatusView, error) {
	var view scheduler.StatusView
	if err := c.doJSON(ctx, http.MethodPut, apiPrefix+"/config", nil, req, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// RunNow returns the server's plain-text acknowledgement.
func (c *apiClient) RunNow(ctx context.Context) (string, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, apiPrefix+"/run-now", nil, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "reading response")
	}
	if resp.StatusCode != http.StatusAccepted {
		return "", errors.Newf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

func (c *apiClient) History(ctx context.Context, page, size int, days int) (*scheduler.HistoryPage, error) {
	query := url.Values{
		"page": {strconv.Itoa(page)},
		"size": {strconv.Itoa(size)},
	}
	if days > 0 {
		query.Set("days", strconv.Itoa(days))
	}

	var result scheduler.HistoryPage
	if err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/history", query, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *apiClient) Latest(ctx context.Context, limit int) (*scheduler.HistoryPage, error) {
	query := url.Values{"limit": {strconv.Itoa(limit)}}

	var result scheduler.HistoryPage
	if err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/history/latest", query, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp handlers.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		if errResp.Code != "" {
			return errors.Newf("server error (%s): %s", errResp.Code, errResp.Error)
		}
		return errors.Newf("server error: %s", errResp.Error)
	}

	return errors.Newf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
