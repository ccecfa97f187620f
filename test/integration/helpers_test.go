//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

var env *Env

// Env holds shared state for all integration tests. The suite expects a
// running elementcap instance attached to a browser with at least one
// matching page tab.
type Env struct {
	BaseURL    string
	Client     *http.Client
	SessionKey string
}

type sessionView struct {
	Key          string `json:"key"`
	HasInspector bool   `json:"has_inspector"`
	HasAgent     bool   `json:"has_agent"`
	Selecting    bool   `json:"selecting"`
	HasSelection bool   `json:"has_selection"`
}

// discoverSession polls /api/v1/sessions until a page agent announces
// itself, then records its key.
func (e *Env) discoverSession() error {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := e.Client.Get(e.BaseURL + "/api/v1/sessions")
		if err != nil {
			return fmt.Errorf("server not reachable at %s: %w", e.BaseURL, err)
		}
		var listing struct {
			Sessions []sessionView `json:"sessions"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&listing)
		resp.Body.Close()
		if decodeErr != nil {
			return fmt.Errorf("decode sessions: %w", decodeErr)
		}
		for _, s := range listing.Sessions {
			if s.HasAgent {
				e.SessionKey = s.Key
				return nil
			}
		}
		time.Sleep(time.Second)
	}
	return fmt.Errorf("no page agent announced at %s within 30s", e.BaseURL)
}

func TestMain(m *testing.M) {
	baseURL := os.Getenv("ELEMENTCAP_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8710"
	}

	env = &Env{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 60 * time.Second},
	}

	if err := env.discoverSession(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "integration: using session %s at %s\n", env.SessionKey, env.BaseURL)

	os.Exit(m.Run())
}

// --- HTTP helpers ---

func (e *Env) GET(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := e.Client.Get(e.BaseURL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func (e *Env) PUT(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	return e.do(t, http.MethodPut, path, body)
}

func (e *Env) POST(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	return e.do(t, http.MethodPost, path, body)
}

func (e *Env) DELETE(t *testing.T, path string) *http.Response {
	t.Helper()
	return e.do(t, http.MethodDelete, path, nil)
}

func (e *Env) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("%s %s: marshal body: %v", method, path, err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.BaseURL+path, r)
	if err != nil {
		t.Fatalf("%s %s: new request: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.Client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// --- Assertion helpers ---

func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, want, body)
	}
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func requireField[T comparable](t *testing.T, got, want T, name string) {
	t.Helper()
	if got != want {
		t.Fatalf("%s = %v, want %v", name, got, want)
	}
}

// --- Session path helper ---

func (e *Env) sessionPath(suffix string) string {
	return fmt.Sprintf("/api/v1/sessions/%s/%s", e.SessionKey, suffix)
}
