package bitrix

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// portal is a fake Bitrix24 REST endpoint. Handlers are keyed by method.
type portal struct {
	mu       sync.Mutex
	requests []recorded
	handlers map[string]func(params map[string]any) (int, string)
}

type recorded struct {
	Method string
	Params map[string]any
}

func newPortal(t *testing.T) (*portal, *Client) {
	t.Helper()
	p := &portal{handlers: make(map[string]func(map[string]any) (int, string))}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		method := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/rest/1/secret/"), ".json")

		var params map[string]any
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &params)

		p.mu.Lock()
		p.requests = append(p.requests, recorded{Method: method, Params: params})
		h := p.handlers[method]
		p.mu.Unlock()

		if h == nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"ERROR_METHOD_NOT_FOUND","error_description":"Method not found!"}`)
			return
		}
		status, resp := h(params)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(ts.Close)

	c, err := NewClient(Config{
		WebhookURL:   ts.URL + "/rest/1/secret/",
		PortalURL:    "https://demo.bitrix24.com/",
		AllowPrivate: true,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return p, c
}

func (p *portal) handle(method string, h func(map[string]any) (int, string)) {
	p.mu.Lock()
	p.handlers[method] = h
	p.mu.Unlock()
}

func (p *portal) calls() []recorded {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]recorded(nil), p.requests...)
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"bad scheme", "ftp://example.com/rest/1/x"},
		{"no host", "https:///rest/1/x"},
		{"query", "https://example.com/rest/1/x?debug=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(Config{WebhookURL: tt.url, AllowPrivate: true}); err == nil {
				t.Errorf("NewClient(%q) succeeded, want error", tt.url)
			}
		})
	}
}

func TestNewClientRejectsPrivateHost(t *testing.T) {
	_, err := NewClient(Config{WebhookURL: "http://127.0.0.1:8080/rest/1/x"})
	if !errors.Is(err, ErrPrivateAddress) {
		t.Errorf("err = %v, want ErrPrivateAddress", err)
	}
}

func TestIsPrivate(t *testing.T) {
	for _, ip := range []string{"10.1.2.3", "172.16.0.1", "192.168.1.1", "127.0.0.1", "169.254.1.1", "::1", "fd00::1", "100.64.0.1", "::ffff:10.0.0.1"} {
		if !isPrivate(mustAddr(t, ip)) {
			t.Errorf("isPrivate(%s) = false", ip)
		}
	}
	for _, ip := range []string{"8.8.8.8", "1.1.1.1", "2606:4700::1111"} {
		if isPrivate(mustAddr(t, ip)) {
			t.Errorf("isPrivate(%s) = true", ip)
		}
	}
}

func TestCallAPIError(t *testing.T) {
	p, c := newPortal(t)
	p.handle("imbot.message.add", func(map[string]any) (int, string) {
		return http.StatusServiceUnavailable, `{"error":"QUERY_LIMIT_EXCEEDED","error_description":"Too many requests"}`
	})

	err := NewMessenger(c, "1347", "cid").SendToDialog(t.Context(), "chat1", "hola")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Code != "QUERY_LIMIT_EXCEEDED" || !apiErr.Retryable() {
		t.Errorf("apiErr = %+v, retryable = %v", apiErr, apiErr.Retryable())
	}
	if !IsAPIError(err, "QUERY_LIMIT_EXCEEDED") {
		t.Error("IsAPIError = false")
	}
}

func TestCallNonJSONFailure(t *testing.T) {
	p, c := newPortal(t)
	p.handle("imbot.message.add", func(map[string]any) (int, string) {
		return http.StatusBadGateway, "<html>bad gateway</html>"
	})

	err := NewMessenger(c, "1347", "cid").SendToDialog(t.Context(), "chat1", "hola")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("err = %v, want 502 APIError", err)
	}
	if !apiErr.Retryable() {
		t.Error("5xx should be retryable")
	}
}

func TestMessenger(t *testing.T) {
	p, c := newPortal(t)
	p.handle("imbot.message.add", func(map[string]any) (int, string) { return 200, `{"result":981}` })
	p.handle("imopenlines.bot.session.operator", func(map[string]any) (int, string) { return 200, `{"result":true}` })
	p.handle("imopenlines.bot.message.add", func(map[string]any) (int, string) { return 200, `{"result":true}` })

	m := NewMessenger(c, "1347", "cid")
	ctx := t.Context()
	if err := m.SendToDialog(ctx, "chat77", "Hola"); err != nil {
		t.Fatalf("SendToDialog: %v", err)
	}
	if err := m.TransferToOperator(ctx, "77"); err != nil {
		t.Fatalf("TransferToOperator: %v", err)
	}
	if err := m.SendToOpenLine(ctx, "77", "https://demo.bitrix24.com/crm/deal/details/5/"); err != nil {
		t.Fatalf("SendToOpenLine: %v", err)
	}

	calls := p.calls()
	if len(calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(calls))
	}
	if calls[0].Method != "imbot.message.add" || calls[0].Params["DIALOG_ID"] != "chat77" ||
		calls[0].Params["MESSAGE"] != "Hola" || calls[0].Params["BOT_ID"] != "1347" || calls[0].Params["CLIENT_ID"] != "cid" {
		t.Errorf("send params = %+v", calls[0])
	}
	if calls[1].Method != "imopenlines.bot.session.operator" || calls[1].Params["CHAT_ID"] != "77" {
		t.Errorf("transfer params = %+v", calls[1])
	}
	if calls[2].Method != "imopenlines.bot.message.add" || calls[2].Params["CHAT_ID"] != "77" {
		t.Errorf("open line params = %+v", calls[2])
	}
}

func TestTransferRejected(t *testing.T) {
	p, c := newPortal(t)
	p.handle("imopenlines.bot.session.operator", func(map[string]any) (int, string) { return 200, `{"result":false}` })

	err := NewMessenger(c, "1347", "cid").TransferToOperator(t.Context(), "77")
	if !IsAPIError(err, "TRANSFER_REJECTED") {
		t.Fatalf("err = %v, want TRANSFER_REJECTED", err)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Retryable() {
		t.Error("rejected transfer should not be retryable")
	}
}
