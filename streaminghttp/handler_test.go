package streaminghttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tmaxmax/go-sse"

	"github.com/factlore/wikipedia-mcp/internal/engine"
	"github.com/factlore/wikipedia-mcp/internal/jsonrpc"
	"github.com/factlore/wikipedia-mcp/mcp"
	"github.com/factlore/wikipedia-mcp/mcpservice"
	"github.com/factlore/wikipedia-mcp/wikipedia"
)

type fakeSource struct{}

func (fakeSource) Search(ctx context.Context, query string) (*wikipedia.SearchResult, error) {
	if query == "missing" {
		return nil, fmt.Errorf("search %q: %w", query, wikipedia.ErrNotFound)
	}
	return &wikipedia.SearchResult{Title: "Go", Summary: "A language.", URL: "https://en.wikipedia.org/wiki/Go"}, nil
}

func (fakeSource) ListSections(ctx context.Context, topic string) (*wikipedia.SectionList, error) {
	return &wikipedia.SectionList{Title: topic, Sections: []string{"History", "Design"}, URL: "https://en.wikipedia.org/wiki/" + topic}, nil
}

func (fakeSource) GetSectionContent(ctx context.Context, topic, sectionTitle string) (*wikipedia.SectionContent, error) {
	return &wikipedia.SectionContent{SectionTitle: sectionTitle, Content: "Text."}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	reg := mcpservice.NewRegistry(mcpservice.WikipediaTools(fakeSource{}))
	eng := engine.New(reg)
	srv := httptest.NewServer(New(eng, reg))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response) *jsonrpc.Response {
	t.Helper()
	var out jsonrpc.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return &out
}

func TestHandleRPC_InitializeRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	resp := postJSON(t, srv.URL+"/mcp/rpc",
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"t","version":"1"}}}`, nil)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("MCP-Protocol-Version"); got != "2024-11-05" {
		t.Fatalf("expected mirrored protocol version header, got %q", got)
	}
	env := decodeEnvelope(t, resp)
	var res mcp.InitializeResult
	if err := json.Unmarshal(env.Result, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.ProtocolVersion != "2024-11-05" {
		t.Fatalf("expected version echoed, got %q", res.ProtocolVersion)
	}
}

func TestHandleRPC_UnsupportedVersionIsProtocolError(t *testing.T) {
	srv := newTestServer(t)
	resp := postJSON(t, srv.URL+"/mcp/rpc",
		`{"jsonrpc":"2.0","id":4,"method":"initialize","params":{"protocolVersion":"1999-01-01","capabilities":{},"clientInfo":{"name":"t","version":"1"}}}`, nil)

	// The error is data, not an HTTP status.
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	if env.Error == nil || env.Error.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("expected -32602, got %+v", env.Error)
	}
}

func TestHandleRPC_MalformedJSONIsParseError(t *testing.T) {
	srv := newTestServer(t)
	resp := postJSON(t, srv.URL+"/mcp/rpc", `{invalid`, nil)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	if env.Error == nil || env.Error.Code != jsonrpc.ErrorCodeParseError {
		t.Fatalf("expected -32700, got %+v", env.Error)
	}
}

func TestHandleRPC_NotificationIsAcceptedSilently(t *testing.T) {
	srv := newTestServer(t)
	resp := postJSON(t, srv.URL+"/mcp/rpc",
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`, nil)

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
}

func TestHandleRPC_WrongContentType(t *testing.T) {
	srv := newTestServer(t)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp/rpc", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", resp.StatusCode)
	}
}

func TestHandleRPC_ToolsCallEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	resp := postJSON(t, srv.URL+"/mcp/rpc",
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"wikipedia_search","arguments":{"query":"Go"}}}`, nil)

	env := decodeEnvelope(t, resp)
	if env.Error != nil {
		t.Fatalf("unexpected error: %+v", env.Error)
	}
	var res mcp.CallToolResult
	if err := json.Unmarshal(env.Result, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(res.Content) != 1 || res.Content[0].Type != "text" {
		t.Fatalf("expected single text block, got %+v", res.Content)
	}
}

func TestHandleRPC_ConcurrentCallsAreIndependent(t *testing.T) {
	srv := newTestServer(t)
	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(id int) {
			body := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"tools/list","params":{}}`, id)
			req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp/rpc", strings.NewReader(body))
			if err != nil {
				done <- err
				return
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				done <- err
				return
			}
			defer resp.Body.Close()
			var env jsonrpc.Response
			if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
				done <- err
				return
			}
			if env.ID.String() != fmt.Sprint(id) {
				done <- fmt.Errorf("response ID %q does not match request %d", env.ID.String(), id)
				return
			}
			done <- nil
		}(i)
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}
}

func TestHandleMCP_SSEStreamingMode(t *testing.T) {
	srv := newTestServer(t)
	resp := postJSON(t, srv.URL+"/mcp",
		`{"jsonrpc":"2.0","id":2,"method":"tools/list","params":{}}`,
		map[string]string{"Accept": "text/event-stream"})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("expected event-stream content type, got %q", ct)
	}

	var envelopes []*jsonrpc.Response
	for ev, err := range sse.Read(resp.Body, nil) {
		if err != nil {
			break
		}
		if ev.Type != "message" {
			t.Fatalf("unexpected event type %q", ev.Type)
		}
		var env jsonrpc.Response
		if err := json.Unmarshal([]byte(ev.Data), &env); err != nil {
			t.Fatalf("decode SSE payload: %v", err)
		}
		envelopes = append(envelopes, &env)
	}
	if len(envelopes) != 1 {
		t.Fatalf("expected one framed message, got %d", len(envelopes))
	}
	var res mcp.ListToolsResult
	if err := json.Unmarshal(envelopes[0].Result, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(res.Tools) != 3 {
		t.Fatalf("expected 3 tools over SSE, got %d", len(res.Tools))
	}
}

func TestHandleMCP_JSONWhenClientPrefersIt(t *testing.T) {
	srv := newTestServer(t)
	resp := postJSON(t, srv.URL+"/mcp",
		`{"jsonrpc":"2.0","id":2,"method":"tools/list","params":{}}`,
		map[string]string{"Accept": "application/json, text/event-stream"})

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("expected JSON response, got %q", ct)
	}
	env := decodeEnvelope(t, resp)
	if env.Error != nil {
		t.Fatalf("unexpected error: %+v", env.Error)
	}
}

func TestHandleMCP_GETNotAllowed(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/mcp")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestInfoEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/info")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Name             string   `json:"name"`
		Version          string   `json:"version"`
		ProtocolVersions []string `json:"protocolVersions"`
		Tools            []string `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Name != engine.ServerName {
		t.Fatalf("unexpected server name %q", body.Name)
	}
	if len(body.ProtocolVersions) != len(mcp.SupportedProtocolVersions) {
		t.Fatalf("unexpected protocol versions %v", body.ProtocolVersions)
	}
	if len(body.Tools) != 3 {
		t.Fatalf("expected 3 tool names, got %v", body.Tools)
	}
}
