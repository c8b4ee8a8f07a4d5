package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"upgradebot/internal/dispatch"
	logx "upgradebot/pkg/logx"
)

func newTestExecutor(t *testing.T, h http.Handler) *Executor {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	e, err := NewExecutor(ExecutorConfig{BaseURL: srv.URL, APIKey: "k"}, logx.Nop())
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	return e
}

type lines struct {
	mu  sync.Mutex
	got []string
}

func (l *lines) add(s string) {
	l.mu.Lock()
	l.got = append(l.got, s)
	l.mu.Unlock()
}

func TestResolve(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var in struct{ Username string }
		_ = json.NewDecoder(r.Body).Decode(&in)
		switch in.Username {
		case "alice":
			fmt.Fprint(w, `{"uid":"u-1"}`)
		case "empty":
			fmt.Fprint(w, `{"uid":""}`)
		case "boom":
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"error":"upstream down"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	ctx := context.Background()
	if uid, err := e.Resolve(ctx, "alice"); err != nil || uid != "u-1" {
		t.Fatalf("Resolve(alice) = %q, %v", uid, err)
	}
	for _, name := range []string{"bob", "empty"} {
		if _, err := e.Resolve(ctx, name); !errors.Is(err, dispatch.ErrNotFound) {
			t.Fatalf("Resolve(%s) err = %v", name, err)
		}
	}
	_, err := e.Resolve(ctx, "boom")
	var he *HTTPError
	if !errors.As(err, &he) || he.Status != http.StatusBadGateway || he.Message != "upstream down" {
		t.Fatalf("Resolve(boom) err = %v", err)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/status/u-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"active":true,"expires":"2026-12-01"}`)
	}))
	st, err := e.Status(context.Background(), "u-1")
	if err != nil || !st.Active || st.Expires != "2026-12-01" {
		t.Fatalf("Status = %+v, %v", st, err)
	}
}

func TestExecuteStreamsProgress(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in executeRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Credentials.FetchToken != "ft" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, `{"type":"log","line":"login ok"}`)
		fmt.Fprintln(w, `plain text`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `{"type":"log","line":"receipt sent"}`)
		fmt.Fprintln(w, `{"type":"result","ok":true,"message":"done for `+in.UID+`"}`)
	}))

	var l lines
	out, err := e.Execute(context.Background(), "u-1", dispatch.CredentialSet{FetchToken: "ft"}, l.add)
	if err != nil || out != "done for u-1" {
		t.Fatalf("Execute = %q, %v", out, err)
	}
	if got := strings.Join(l.got, "|"); got != "login ok|plain text|receipt sent" {
		t.Fatalf("progress = %s", got)
	}
}

func TestExecuteFailures(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		h    http.HandlerFunc
		diag string
	}{
		{"negative result", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, `{"type":"result","ok":false,"message":"token expired"}`)
		}, "token expired"},
		{"no result", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, `{"type":"log","line":"x"}`)
		}, "execute stream ended without a result"},
		{"http error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"message":"slow down"}`)
		}, "slow down"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := newTestExecutor(t, tc.h)
			_, err := e.Execute(context.Background(), "u", dispatch.CredentialSet{}, func(string) {})
			var re *dispatch.RemoteError
			if !errors.As(err, &re) || re.Diagnostic != tc.diag {
				t.Fatalf("err = %v, want diagnostic %q", err, tc.diag)
			}
		})
	}
}

func TestProvision(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/profiles" || r.Header.Get("X-Api-Key") != "dns-key" {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"error":"bad key"}`)
			return
		}
		fmt.Fprint(w, `{"data":{"id":"abc123"}}`)
	}))
	defer srv.Close()

	p, err := NewProvisioner(ProvisionerConfig{BaseURL: srv.URL, APIKey: "dns-key"})
	if err != nil {
		t.Fatalf("NewProvisioner: %v", err)
	}
	var l lines
	prof, err := p.Provision(context.Background(), l.add)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if prof.ID != "abc123" || prof.Link != "https://apple.nextdns.io/?profile=abc123" {
		t.Fatalf("profile = %+v", prof)
	}
	if len(l.got) != 2 {
		t.Fatalf("progress = %v", l.got)
	}

	bad, _ := NewProvisioner(ProvisionerConfig{BaseURL: srv.URL, APIKey: "wrong"})
	if _, err := bad.Provision(context.Background(), func(string) {}); err == nil || !strings.Contains(err.Error(), "bad key") {
		t.Fatalf("err = %v", err)
	}
	if _, err := NewProvisioner(ProvisionerConfig{}); err == nil {
		t.Fatal("missing api key accepted")
	}
}
