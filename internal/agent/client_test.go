package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type fakeAgentServer struct {
	t *testing.T

	runStatus   int
	pollsNeeded int32
	pollCount   int32
	reply       string

	srv *httptest.Server
}

func newFakeAgentServer(t *testing.T) *fakeAgentServer {
	t.Helper()
	f := &fakeAgentServer{t: t, runStatus: http.StatusOK, pollsNeeded: 1, reply: "agent reply"}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse token form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type = %q, want client_credentials", got)
		}
		writeJSONBody(w, http.StatusOK, map[string]any{"access_token": "test-token"})
	})
	mux.HandleFunc("/threads", func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r, "test-token")
		writeJSONBody(w, http.StatusOK, map[string]any{"id": "thread-1"})
	})
	mux.HandleFunc("/threads/thread-1/messages", func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r, "test-token")
		if r.Method == http.MethodPost {
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode message body: %v", err)
			}
			if body["role"] != "user" {
				t.Errorf("message role = %v, want user", body["role"])
			}
			writeJSONBody(w, http.StatusOK, map[string]any{"id": "msg-1"})
			return
		}

		n := atomic.AddInt32(&f.pollCount, 1)
		if n < f.pollsNeeded {
			writeJSONBody(w, http.StatusOK, map[string]any{"data": []any{}})
			return
		}
		writeJSONBody(w, http.StatusOK, map[string]any{
			"data": []any{
				map[string]any{
					"role": "user",
					"content": []any{
						map[string]any{"type": "text", "text": map[string]any{"value": "the prompt"}},
					},
				},
				map[string]any{
					"role": "assistant",
					"content": []any{
						map[string]any{"type": "text", "text": map[string]any{"value": f.reply}},
					},
				},
			},
		})
	})
	mux.HandleFunc("/threads/thread-1/runs", func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r, "test-token")
		writeJSONBody(w, f.runStatus, map[string]any{"id": "run-1", "status": "queued"})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAgentServer) client() *Client {
	return NewClient(Config{
		TenantID:     "tenant",
		ClientID:     "client",
		ClientSecret: "secret",
		Scope:        "scope/.default",
		BaseURL:      f.srv.URL,
		TokenURL:     f.srv.URL + "/token",
		PollInterval: 5 * time.Millisecond,
		PollAttempts: 3,
		HTTPClient:   f.srv.Client(),
	})
}

func requireBearer(t *testing.T, r *http.Request, token string) {
	t.Helper()
	if got := r.Header.Get("Authorization"); got != "Bearer "+token {
		t.Errorf("Authorization = %q, want bearer %q", got, token)
	}
}

func writeJSONBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestCallAgentReturnsAssistantReply(t *testing.T) {
	f := newFakeAgentServer(t)
	f.pollsNeeded = 2

	got, err := f.client().CallAgent(context.Background(), "agent-1", "make a quiz")
	if err != nil {
		t.Fatalf("CallAgent: %v", err)
	}
	if got != "agent reply" {
		t.Fatalf("reply = %q, want %q", got, "agent reply")
	}
	if n := atomic.LoadInt32(&f.pollCount); n != 2 {
		t.Fatalf("poll count = %d, want 2", n)
	}
}

func TestCallAgentRunRejected(t *testing.T) {
	f := newFakeAgentServer(t)
	f.runStatus = http.StatusBadRequest

	_, err := f.client().CallAgent(context.Background(), "agent-1", "make a quiz")
	if !errors.Is(err, ErrRunStart) {
		t.Fatalf("err = %v, want ErrRunStart", err)
	}
}

func TestCallAgentPollTimeout(t *testing.T) {
	f := newFakeAgentServer(t)
	f.pollsNeeded = 100

	_, err := f.client().CallAgent(context.Background(), "agent-1", "make a quiz")
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("err = %v, want ErrPollTimeout", err)
	}
	if n := atomic.LoadInt32(&f.pollCount); n != 3 {
		t.Fatalf("poll count = %d, want 3", n)
	}
}

func TestCallAgentCancelableDuringPoll(t *testing.T) {
	f := newFakeAgentServer(t)
	f.pollsNeeded = 100

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(Config{
		TenantID:     "tenant",
		ClientID:     "client",
		ClientSecret: "secret",
		Scope:        "scope/.default",
		BaseURL:      f.srv.URL,
		TokenURL:     f.srv.URL + "/token",
		PollInterval: time.Hour,
		PollAttempts: 30,
		HTTPClient:   f.srv.Client(),
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := c.CallAgent(ctx, "agent-1", "make a quiz")
		errCh <- err
	}()

	// let the first poll happen, then cancel the interval wait
	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&f.pollCount) == 0 {
		select {
		case <-deadline:
			t.Fatal("first poll never happened")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CallAgent did not return after cancel")
	}
}

func TestCallAgentMissingCredentials(t *testing.T) {
	c := NewClient(Config{BaseURL: "https://example.test"})
	_, err := c.CallAgent(context.Background(), "agent-1", "prompt")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestFirstAssistantTextSkipsEmptyContent(t *testing.T) {
	raw := `{"data":[
		{"role":"assistant","content":[{"type":"image","text":{"value":""}}]},
		{"role":"assistant","content":[{"type":"text","text":{"value":"   "}},{"type":"text","text":{"value":"second"}}]}
	]}`
	var out messageList
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := out.firstAssistantText(); got != "second" {
		t.Fatalf("firstAssistantText = %q, want %q", got, "second")
	}
}
