package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"upgradebot/internal/dispatch"
	logx "upgradebot/pkg/logx"
)

// Status is the upstream subscription state of a target.
type Status struct {
	Active  bool   `json:"active"`
	Expires string `json:"expires"`
}

type ExecutorConfig struct {
	BaseURL string
	APIKey  string
	// Timeout bounds resolve and status calls. Execute is bounded by its ctx only.
	Timeout time.Duration
}

// Executor talks to the executor service.
type Executor struct {
	api    *apiClient
	stream *apiClient
	log    logx.Logger
}

func NewExecutor(cfg ExecutorConfig, log logx.Logger) (*Executor, error) {
	auth := func(h http.Header) {
		if cfg.APIKey != "" {
			h.Set("Authorization", "Bearer "+cfg.APIKey)
		}
	}
	api, err := newAPIClient(cfg.BaseURL, cfg.Timeout, auth)
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}
	stream := *api
	stream.http = &http.Client{}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{api: api, stream: &stream, log: log}, nil
}

// Resolve maps a username to the upstream uid. It returns
// dispatch.ErrNotFound when the service does not know the name.
func (e *Executor) Resolve(ctx context.Context, username string) (string, error) {
	var out struct {
		UID string `json:"uid"`
	}
	err := e.api.doJSON(ctx, http.MethodPost, "/v1/resolve", map[string]string{"username": username}, &out)
	var he *HTTPError
	if errors.As(err, &he) && he.Status == http.StatusNotFound {
		return "", dispatch.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", username, err)
	}
	if strings.TrimSpace(out.UID) == "" {
		return "", dispatch.ErrNotFound
	}
	return out.UID, nil
}

func (e *Executor) Status(ctx context.Context, uid string) (Status, error) {
	var st Status
	if err := e.api.doJSON(ctx, http.MethodGet, "/v1/status/"+url.PathEscape(uid), nil, &st); err != nil {
		return Status{}, fmt.Errorf("status %s: %w", uid, err)
	}
	return st, nil
}

type executeRequest struct {
	UID         string                 `json:"uid"`
	Credentials dispatch.CredentialSet `json:"credentials"`
}

// streamFrame is one NDJSON line of an execute response.
type streamFrame struct {
	Type    string `json:"type"`
	Line    string `json:"line,omitempty"`
	OK      bool   `json:"ok,omitempty"`
	Message string `json:"message,omitempty"`
}

const maxFrame = 1 << 20

// Execute runs the upgrade and relays every log frame to progress. A missing
// or negative result frame is a *dispatch.RemoteError.
func (e *Executor) Execute(ctx context.Context, target string, creds dispatch.CredentialSet, progress dispatch.ProgressFunc) (string, error) {
	resp, err := e.stream.do(ctx, http.MethodPost, "/v1/execute", executeRequest{UID: target, Credentials: creds})
	if err != nil {
		var he *HTTPError
		if errors.As(err, &he) && he.Message != "" {
			return "", &dispatch.RemoteError{Diagnostic: he.Message, Err: err}
		}
		return "", &dispatch.RemoteError{Diagnostic: "executor unreachable", Err: err}
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), maxFrame)
	for sc.Scan() {
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var f streamFrame
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			// Non-JSON output is still useful progress.
			progress(raw)
			continue
		}
		switch f.Type {
		case "log":
			progress(f.Line)
		case "result":
			if !f.OK {
				return "", &dispatch.RemoteError{Diagnostic: f.Message}
			}
			return f.Message, nil
		default:
			e.log.Debug("unknown execute frame", logx.String("type", f.Type))
		}
	}
	if err := sc.Err(); err != nil {
		return "", &dispatch.RemoteError{Diagnostic: "execute stream broken", Err: err}
	}
	return "", &dispatch.RemoteError{Diagnostic: "execute stream ended without a result"}
}
