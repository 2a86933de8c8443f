package api

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/tidwall/gjson"

	"github.com/diogo/boltchat/internal/credential"
	apierrors "github.com/diogo/boltchat/internal/errors"
	"github.com/diogo/boltchat/internal/models"
)

// mockHTTPClient implements HTTPDoer for testing
type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)

	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)
	m.mu.Unlock()

	if m.doFunc != nil {
		return m.doFunc(req)
	}
	return jsonResponse(200, `{"choices":[{"message":{"content":"ok"}}]}`), nil
}

func (m *mockHTTPClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func newTestClient(t *testing.T, doer HTTPDoer, opts ...ClientOption) (*Client, *credential.MemoryStore) {
	t.Helper()
	creds := credential.NewMemoryStore()
	if err := creds.Set("sk-test-key"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	client, err := NewClient(creds, append([]ClientOption{WithHTTPClient(doer)}, opts...)...)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client, creds
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name          string
		opts          []ClientOption
		wantModel     string
		wantEndpoint  string
		wantMaxTokens int
		wantTimeout   time.Duration
	}{
		{
			name:          "defaults",
			wantModel:     models.DefaultModel.Name,
			wantEndpoint:  models.EndpointChatCompletions,
			wantMaxTokens: models.DefaultMaxTokens,
			wantTimeout:   30 * time.Second,
		},
		{
			name: "custom options",
			opts: []ClientOption{
				WithModel(models.ModelGPT4),
				WithEndpoint("http://localhost:8080/v1/chat/completions"),
				WithMaxTokens(512),
				WithTimeout(5 * time.Second),
			},
			wantModel:     "gpt-4",
			wantEndpoint:  "http://localhost:8080/v1/chat/completions",
			wantMaxTokens: 512,
			wantTimeout:   5 * time.Second,
		},
		{
			name: "zero values keep defaults",
			opts: []ClientOption{
				WithEndpoint(""),
				WithMaxTokens(0),
				WithTimeout(0),
			},
			wantModel:     models.DefaultModel.Name,
			wantEndpoint:  models.EndpointChatCompletions,
			wantMaxTokens: models.DefaultMaxTokens,
			wantTimeout:   30 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, &mockHTTPClient{}, tt.opts...)

			if client.GetModel().Name != tt.wantModel {
				t.Errorf("GetModel() = %s, want %s", client.GetModel().Name, tt.wantModel)
			}
			if client.Endpoint() != tt.wantEndpoint {
				t.Errorf("Endpoint() = %s, want %s", client.Endpoint(), tt.wantEndpoint)
			}
			if client.maxTokens != tt.wantMaxTokens {
				t.Errorf("maxTokens = %d, want %d", client.maxTokens, tt.wantMaxTokens)
			}
			if client.timeout != tt.wantTimeout {
				t.Errorf("timeout = %v, want %v", client.timeout, tt.wantTimeout)
			}
		})
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	if _, err := NewClient(nil); err == nil {
		t.Error("expected error for nil credential store")
	}
}

func TestComplete_Success(t *testing.T) {
	doer := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return jsonResponse(200, `{"id":"x","choices":[{"message":{"role":"assistant","content":"42"}}]}`), nil
		},
	}
	client, _ := newTestClient(t, doer)

	reply, err := client.Complete(context.Background(), models.PersonaPrompt, "What is the answer?")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if reply != "42" {
		t.Errorf("reply = %q, want %q", reply, "42")
	}
}

func TestComplete_RequestShape(t *testing.T) {
	doer := &mockHTTPClient{}
	client, _ := newTestClient(t, doer)

	if _, err := client.Complete(context.Background(), "system prompt", "hello there"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if doer.callCount() != 1 {
		t.Fatalf("expected 1 request, got %d", doer.callCount())
	}

	req := doer.requests[0]
	if req.Method != http.MethodPost {
		t.Errorf("Method = %s, want POST", req.Method)
	}
	if req.URL.String() != models.EndpointChatCompletions {
		t.Errorf("URL = %s", req.URL.String())
	}
	if got := req.Header.Get("Authorization"); got != "Bearer sk-test-key" {
		t.Errorf("Authorization = %q", got)
	}
	if got := req.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}

	body := doer.bodies[0]
	if !gjson.ValidBytes(body) {
		t.Fatalf("request body is not JSON: %s", body)
	}
	if got := gjson.GetBytes(body, "model").String(); got != models.DefaultModel.Name {
		t.Errorf("model = %s", got)
	}
	if got := gjson.GetBytes(body, "max_tokens").Int(); got != models.DefaultMaxTokens {
		t.Errorf("max_tokens = %d", got)
	}

	messages := gjson.GetBytes(body, "messages").Array()
	if len(messages) != 2 {
		t.Fatalf("expected exactly 2 messages, got %d", len(messages))
	}
	if messages[0].Get("role").String() != "system" || messages[0].Get("content").String() != "system prompt" {
		t.Errorf("first message = %s", messages[0].Raw)
	}
	if messages[1].Get("role").String() != "user" || messages[1].Get("content").String() != "hello there" {
		t.Errorf("second message = %s", messages[1].Raw)
	}
}

func TestComplete_NoCredential(t *testing.T) {
	doer := &mockHTTPClient{}
	client, creds := newTestClient(t, doer)
	_ = creds.Clear()

	_, err := client.Complete(context.Background(), "sys", "hi")
	if !errors.Is(err, apierrors.ErrCredentialMissing) {
		t.Fatalf("expected ErrCredentialMissing, got %v", err)
	}
	if apierrors.KindOf(err) != apierrors.KindCredentialMissing {
		t.Errorf("KindOf = %s", apierrors.KindOf(err))
	}
	if doer.callCount() != 0 {
		t.Errorf("expected no HTTP calls, got %d", doer.callCount())
	}
}

func TestComplete_CredentialChangesBetweenCalls(t *testing.T) {
	doer := &mockHTTPClient{}
	client, creds := newTestClient(t, doer)

	_, _ = client.Complete(context.Background(), "sys", "one")
	_ = creds.Set("sk-rotated")
	_, _ = client.Complete(context.Background(), "sys", "two")

	if got := doer.requests[1].Header.Get("Authorization"); got != "Bearer sk-rotated" {
		t.Errorf("Authorization after rotation = %q", got)
	}
}

func TestComplete_TransportFailure(t *testing.T) {
	doer := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
	}
	client, _ := newTestClient(t, doer)

	_, err := client.Complete(context.Background(), "sys", "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if !apierrors.IsNetworkError(err) {
		t.Errorf("expected network error, got %T: %v", err, err)
	}
	if apierrors.KindOf(err) != apierrors.KindUnreachable {
		t.Errorf("KindOf = %s, want Unreachable", apierrors.KindOf(err))
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("error should describe the cause: %v", err)
	}
}

func TestComplete_Timeout(t *testing.T) {
	doer := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			<-req.Context().Done()
			return nil, req.Context().Err()
		},
	}
	client, _ := newTestClient(t, doer, WithTimeout(20*time.Millisecond))

	_, err := client.Complete(context.Background(), "sys", "hi")
	if !apierrors.IsTimeoutError(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if apierrors.KindOf(err) != apierrors.KindUnreachable {
		t.Errorf("KindOf = %s, want Unreachable", apierrors.KindOf(err))
	}
}

func TestComplete_RemoteRejected(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
	}{
		{
			name:        "provider message",
			status:      401,
			body:        `{"error":{"message":"Incorrect API key provided: sk-test***","type":"invalid_request_error"}}`,
			wantMessage: "Incorrect API key provided: sk-test***",
		},
		{
			name:        "rate limited",
			status:      429,
			body:        `{"error":{"message":"Rate limit reached"}}`,
			wantMessage: "Rate limit reached",
		},
		{
			name:        "string error field",
			status:      400,
			body:        `{"error":"model not found"}`,
			wantMessage: "model not found",
		},
		{
			name:        "unparseable body",
			status:      502,
			body:        `<html>Bad Gateway</html>`,
			wantMessage: "Failed to fetch response (status 502)",
		},
		{
			name:        "json without message",
			status:      500,
			body:        `{"error":{}}`,
			wantMessage: "Failed to fetch response (status 500)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doer := &mockHTTPClient{
				doFunc: func(req *http.Request) (*http.Response, error) {
					return jsonResponse(tt.status, tt.body), nil
				},
			}
			client, _ := newTestClient(t, doer)

			_, err := client.Complete(context.Background(), "sys", "hi")
			if !apierrors.IsRemoteRejected(err) {
				t.Fatalf("expected RemoteRejected, got %v", err)
			}
			if err.Error() != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.wantMessage)
			}
			if apierrors.GetHTTPStatus(err) != tt.status {
				t.Errorf("status = %d, want %d", apierrors.GetHTTPStatus(err), tt.status)
			}
			if apierrors.GetResponseBody(err) != tt.body {
				t.Errorf("body = %q", apierrors.GetResponseBody(err))
			}
		})
	}
}

func TestComplete_FallbackOnUnusablePayload(t *testing.T) {
	bodies := []string{
		`not json`,
		`{}`,
		`{"choices":[]}`,
		`{"choices":[{"message":{"content":"   "}}]}`,
		`{"choices":[{"message":{"content":null}}]}`,
	}

	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			doer := &mockHTTPClient{
				doFunc: func(req *http.Request) (*http.Response, error) {
					return jsonResponse(200, body), nil
				},
			}
			client, _ := newTestClient(t, doer)

			reply, err := client.Complete(context.Background(), "sys", "hi")
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if reply != models.FallbackReply {
				t.Errorf("reply = %q, want fallback", reply)
			}
		})
	}
}

func TestComplete_TrimsReply(t *testing.T) {
	doer := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return jsonResponse(200, `{"choices":[{"message":{"content":"\n  use a map  \n"}}]}`), nil
		},
	}
	client, _ := newTestClient(t, doer)

	reply, _ := client.Complete(context.Background(), "sys", "hi")
	if reply != "use a map" {
		t.Errorf("reply = %q", reply)
	}
}

func TestMockCompleter(t *testing.T) {
	m := &MockCompleter{Reply: "pong"}

	reply, err := m.Complete(context.Background(), "sys", "ping")
	if err != nil || reply != "pong" {
		t.Fatalf("Complete() = %q, %v", reply, err)
	}
	if m.Calls() != 1 || m.LastUserText() != "ping" || m.LastSystemPrompt() != "sys" {
		t.Errorf("recorded calls=%d user=%q sys=%q", m.Calls(), m.LastUserText(), m.LastSystemPrompt())
	}
}
