package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type roundTrip func(*http.Request) *http.Response

func (rt roundTrip) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt(req), nil
}

type staticToken struct {
	token string
	err   error
	calls int
}

func (s *staticToken) Token(ctx context.Context) (string, error) {
	s.calls++
	return s.token, s.err
}

func newTestClient(tokens TokenSource, fn func(*http.Request) *http.Response) *Client {
	return NewClient(Config{
		Endpoint:   "https://gateway.test/generate",
		Model:      "gemini_pro_gcp",
		ClientID:   "client-123",
		UseCaseID:  "USECASE_1",
		HTTPClient: &http.Client{Transport: roundTrip(fn)},
		Now:        func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 890_000_000, time.FixedZone("X", 3600)) },
	}, tokens)
}

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestGenerateRequestShape(t *testing.T) {
	client := newTestClient(&staticToken{token: "tok"}, func(req *http.Request) *http.Response {
		wantHeaders := map[string]string{
			"x-wf-request-date": "2025-03-04T04:06:07.890Z",
			"x-wf-client-id":    "client-123",
			"x-wf-usecase-id":   "USECASE_1",
			"Authorization":     "Bearer tok",
			"Content-Type":      "application/json",
		}
		for k, v := range wantHeaders {
			if got := req.Header.Get(k); got != v {
				t.Errorf("header %s = %q, want %q", k, got, v)
			}
		}
		if req.Header.Get("x-wf-request-id") == "" || req.Header.Get("x-wf-correlation-id") == "" {
			t.Error("request and correlation ids must be set")
		}
		if req.Header.Get("x-wf-request-id") == req.Header.Get("x-wf-correlation-id") {
			t.Error("request and correlation ids should differ")
		}

		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["model"] != "gemini_pro_gcp" {
			t.Errorf("model = %v", body["model"])
		}
		if body["temperature"] != float64(0) {
			t.Errorf("temperature = %v", body["temperature"])
		}
		if body["top_p"] != float64(1) {
			t.Errorf("top_p = %v", body["top_p"])
		}
		msgs, _ := body["messages"].([]any)
		if len(msgs) != 2 {
			t.Fatalf("messages = %v", body["messages"])
		}
		first := msgs[0].(map[string]any)
		if first["role"] != "system" || first["content"] != "classify" {
			t.Errorf("first message = %v", first)
		}
		return respond(200, `{"choices":[{"message":{"role":"assistant","content":"[]"}}]}`)
	})

	reply, err := client.Generate(context.Background(), []Message{SystemMessage("classify"), UserMessage("comment")})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply.Kind != ReplyContent || reply.Text() != "[]" {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestGenerateServerError(t *testing.T) {
	client := newTestClient(&staticToken{token: "tok"}, func(req *http.Request) *http.Response {
		return respond(500, "upstream exploded")
	})

	_, err := client.Generate(context.Background(), []Message{UserMessage("x")})
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if genErr.StatusCode != 500 || genErr.Body != "upstream exploded" {
		t.Fatalf("unexpected error fields %+v", genErr)
	}
}

func TestGenerateNonJSONBodyReturnedVerbatim(t *testing.T) {
	raw := "  here are results: [{\"themes\":\"A\"}] \n"
	client := newTestClient(&staticToken{token: "tok"}, func(req *http.Request) *http.Response {
		return respond(200, raw)
	})

	reply, err := client.Generate(context.Background(), []Message{UserMessage("x")})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply.Kind != ReplyRawBody {
		t.Fatalf("kind = %s", reply.Kind)
	}
	if reply.Text() != raw {
		t.Fatalf("raw body altered: %q", reply.Text())
	}
}

func TestGenerateMissingChoices(t *testing.T) {
	for _, body := range []string{`{}`, `{"choices":[]}`, `{"id":"x","object":"chat.completion"}`, `[1,2]`} {
		client := newTestClient(&staticToken{token: "tok"}, func(req *http.Request) *http.Response {
			return respond(200, body)
		})
		reply, err := client.Generate(context.Background(), []Message{UserMessage("x")})
		if err != nil {
			t.Fatalf("%s: Generate: %v", body, err)
		}
		if reply.Kind != ReplyMissingContent {
			t.Fatalf("%s: kind = %s", body, reply.Kind)
		}
		if reply.Text() != MissingContentText {
			t.Fatalf("%s: text = %q", body, reply.Text())
		}
	}
}

func TestGenerateTokenErrorPropagates(t *testing.T) {
	tokenErr := errors.New("token endpoint down")
	sent := false
	client := newTestClient(&staticToken{err: tokenErr}, func(req *http.Request) *http.Response {
		sent = true
		return respond(200, `{}`)
	})

	_, err := client.Generate(context.Background(), []Message{UserMessage("x")})
	if !errors.Is(err, tokenErr) {
		t.Fatalf("expected token error, got %v", err)
	}
	if sent {
		t.Fatal("generation request must not be sent without a token")
	}
}

func TestGenerateTransportError(t *testing.T) {
	client := NewClient(Config{
		Endpoint: "https://gateway.test/generate",
		HTTPClient: &http.Client{Transport: transportFunc(func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection reset")
		})},
	}, &staticToken{token: "tok"})

	_, err := client.Generate(context.Background(), []Message{UserMessage("x")})
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if genErr.StatusCode != 0 {
		t.Fatalf("status = %d", genErr.StatusCode)
	}
}

type transportFunc func(*http.Request) (*http.Response, error)

func (f transportFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

type invalidatingToken struct {
	staticToken
	invalidated int
}

func (s *invalidatingToken) Invalidate() { s.invalidated++ }

func TestGenerateUnauthorizedInvalidatesToken(t *testing.T) {
	tokens := &invalidatingToken{staticToken: staticToken{token: "stale"}}
	client := newTestClient(tokens, func(*http.Request) *http.Response {
		return respond(http.StatusUnauthorized, `{"error":"token revoked"}`)
	})

	_, err := client.Generate(context.Background(), []Message{UserMessage("hi")})
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("err = %v", err)
	}
	if tokens.invalidated != 1 {
		t.Errorf("invalidated = %d, want 1", tokens.invalidated)
	}
}
