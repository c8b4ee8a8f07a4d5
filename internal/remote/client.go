package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// HTTPError is a non-2xx response.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

type apiClient struct {
	base   *url.URL
	http   *http.Client
	header func(h http.Header)
}

func newAPIClient(baseURL string, timeout time.Duration, header func(h http.Header)) (*apiClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &apiClient{base: u, http: &http.Client{Timeout: timeout}, header: header}, nil
}

// do sends body as JSON and returns the open response for 2xx statuses.
// The caller closes the body.
func (c *apiClient) do(ctx context.Context, method, reqPath string, body any) (*http.Response, error) {
	u := *c.base
	u.Path = path.Join(c.base.Path, reqPath)

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.header != nil {
		c.header(req.Header)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, reqPath, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, httpError(resp)
	}
	return resp, nil
}

// doJSON is do plus decoding of the response into out (nil discards it).
func (c *apiClient) doJSON(ctx context.Context, method, reqPath string, body, out any) error {
	resp, err := c.do(ctx, method, reqPath, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func httpError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var shaped struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &shaped) == nil {
		switch {
		case shaped.Error != "":
			msg = shaped.Error
		case shaped.Message != "":
			msg = shaped.Message
		}
	}
	return &HTTPError{Status: resp.StatusCode, Message: msg}
}
