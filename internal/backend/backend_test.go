package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allaspectsdev/modelmux/internal/config"
)

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestHTTP_Execute(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotBody = decodeBody(t, r)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"forty-two"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	b := NewHTTP("local", "llama3", "secret", srv.URL+"/v1/")
	out, err := b.Execute(context.Background(), "what is the answer", "be brief", Budget{MaxOutputTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, "forty-two", out)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "llama3", gotBody["model"])
	assert.EqualValues(t, 64, gotBody["max_tokens"])

	msgs := gotBody["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
}

func TestHTTP_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, true},
		{"server error", http.StatusBadGateway, `oops`, true},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad"}}`, false},
		{"error body with 200", http.StatusOK, `{"error":{"message":"model not loaded","type":"invalid"}}`, false},
		{"no choices", http.StatusOK, `{"choices":[]}`, false},
		{"garbage", http.StatusOK, `not json`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewHTTP("local", "m", "", srv.URL).Execute(context.Background(), "q", "", Budget{MaxOutputTokens: 8})
			require.Error(t, err)

			var be *Error
			require.True(t, errors.As(err, &be), "want *Error, got %T", err)
			assert.Equal(t, "local", be.Backend)
			assert.Equal(t, tt.status, be.Status)
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestHTTP_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewHTTP("slow", "m", "", srv.URL).Execute(ctx, "q", "", Budget{MaxOutputTokens: 8})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAnthropic_Execute(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"), "path %s", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		gotBody = decodeBody(t, r)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}],
			"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`)
	}))
	defer srv.Close()

	b := NewAnthropic("claude", "claude-test", "test-key", srv.URL)
	out, err := b.Execute(context.Background(), "hi", "system text", Budget{MaxOutputTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
	assert.EqualValues(t, 100, gotBody["max_tokens"])
	assert.NotNil(t, gotBody["system"])
}

func TestAnthropic_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`)
	}))
	defer srv.Close()

	_, err := NewAnthropic("claude", "claude-test", "k", srv.URL).Execute(context.Background(), "hi", "", Budget{MaxOutputTokens: 10})
	require.Error(t, err)

	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, http.StatusServiceUnavailable, be.Status)
	assert.True(t, IsTransient(err))
}

func TestOpenAI_Execute(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), "path %s", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		gotBody = decodeBody(t, r)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-test",
			"choices":[{"index":0,"message":{"role":"assistant","content":"pong"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	b := NewOpenAI("gpt", "gpt-test", "sk-test", srv.URL+"/v1/")
	out, err := b.Execute(context.Background(), "ping", "", Budget{MaxOutputTokens: 5})
	require.NoError(t, err)
	assert.Equal(t, "pong", out)
	assert.Len(t, gotBody["messages"], 1)
	assert.EqualValues(t, 5, gotBody["max_completion_tokens"])
}

func TestGemini_Execute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "gemini-test:generateContent")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"bonjour"}]}}]}`)
	}))
	defer srv.Close()

	b, err := NewGemini(context.Background(), "gemini", "gemini-test", "g-key", srv.URL+"/")
	require.NoError(t, err)
	out, err := b.Execute(context.Background(), "hello", "reply in french", Budget{MaxOutputTokens: 20})
	require.NoError(t, err)
	assert.Equal(t, "bonjour", out)
}

func TestSynthetic(t *testing.T) {
	s := NewSynthetic("demo", 0)
	out, err := s.Execute(context.Background(), "list all open roles please", "", Budget{MaxOutputTokens: 100})
	require.NoError(t, err)
	assert.Contains(t, out, "5 words")

	again, _ := s.Execute(context.Background(), "list all open roles please", "", Budget{MaxOutputTokens: 100})
	assert.Equal(t, out, again, "synthetic output must be deterministic")

	short, _ := s.Execute(context.Background(), "list all open roles please", "", Budget{MaxOutputTokens: 2})
	assert.Len(t, short, 8)

	slow := NewSynthetic("slow", time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = slow.Execute(ctx, "q", "", Budget{MaxOutputTokens: 10})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", &Error{Status: 500})))
	assert.True(t, IsTransient(&Error{Temporary: true}))
	assert.False(t, IsTransient(&Error{Status: 401}))
	assert.False(t, IsTransient(errors.New("plain")))
}

func TestWrapSDKError_PassesContextErrors(t *testing.T) {
	assert.Nil(t, wrapSDKError("x", nil))
	assert.Equal(t, context.Canceled, wrapSDKError("x", context.Canceled))

	err := wrapSDKError("x", errors.New("boom"))
	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, 0, be.Status)
}

type mapResolver map[string]string

func (m mapResolver) ResolveKeyRef(ref string) (string, error) {
	if v, ok := m[ref]; ok {
		return v, nil
	}
	return "", fmt.Errorf("unknown ref %q", ref)
}

func TestNew(t *testing.T) {
	keys := mapResolver{"env:K": "secret"}

	tests := []struct {
		name    string
		cfg     config.BackendConfig
		want    string
		wantErr string
	}{
		{"anthropic", config.BackendConfig{ID: "a", Kind: "anthropic", Model: "m", KeyRef: "env:K"}, "*backend.Anthropic", ""},
		{"openai", config.BackendConfig{ID: "o", Kind: "openai", Model: "m", KeyRef: "env:K"}, "*backend.OpenAI", ""},
		{"gemini", config.BackendConfig{ID: "g", Kind: "gemini", Model: "m", KeyRef: "env:K"}, "*backend.Gemini", ""},
		{"http", config.BackendConfig{ID: "h", Kind: "http", Model: "m", APIBase: "http://localhost:1/v1"}, "*backend.HTTP", ""},
		{"synthetic", config.BackendConfig{ID: "s", Kind: "synthetic"}, "*backend.Synthetic", ""},
		{"http without base", config.BackendConfig{ID: "h", Kind: "http"}, "", "api_base"},
		{"unknown kind", config.BackendConfig{ID: "u", Kind: "smoke-signals"}, "", "unknown kind"},
		{"bad key ref", config.BackendConfig{ID: "a", Kind: "anthropic", KeyRef: "env:MISSING"}, "", "resolving key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(context.Background(), tt.cfg, keys)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, fmt.Sprintf("%T", b))
			assert.Equal(t, tt.cfg.ID, b.Name())
		})
	}
}

func TestFunc(t *testing.T) {
	f := Func{ID: "fn", Fn: func(_ context.Context, q, _ string, _ Budget) (string, error) {
		return strings.ToUpper(q), nil
	}}
	out, err := f.Execute(context.Background(), "abc", "", Budget{})
	require.NoError(t, err)
	assert.Equal(t, "ABC", out)
	assert.Equal(t, "fn", f.Name())
}
