package cdp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

type fakeTarget struct {
	ID   string
	Type string
	URL  string
}

type fakeCall struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// fakeDevTools serves /json/version and a browser WebSocket speaking enough of the
// Target domain for attach and reset flows.
type fakeDevTools struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	targets  []fakeTarget
	calls    []fakeCall
	conn     *websocket.Conn
	nextID   int
	failWith map[string]string
}

func newFakeDevTools(t *testing.T, targets ...fakeTarget) *fakeDevTools {
	t.Helper()
	f := &fakeDevTools{t: t, targets: targets, failWith: map[string]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"Browser":              "Firefox/128.0",
			"Protocol-Version":     "1.3",
			"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/browser/fake",
		})
	})
	mux.HandleFunc("/devtools/browser/fake", f.handleWS)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeDevTools) port() int {
	u, err := url.Parse(f.server.URL)
	if err != nil {
		f.t.Fatalf("parse server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		f.t.Fatalf("parse server port: %v", err)
	}
	return port
}

func (f *fakeDevTools) fail(method, message string) {
	f.mu.Lock()
	f.failWith[method] = message
	f.mu.Unlock()
}

func (f *fakeDevTools) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Method)
	}
	return out
}

func (f *fakeDevTools) callsFor(method string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeDevTools) pageIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, t := range f.targets {
		if t.Type == "page" {
			out = append(out, t.ID)
		}
	}
	return out
}

// push sends an event to the connected client.
func (f *fakeDevTools) push(sessionID, method string, params any) {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		f.t.Fatalf("no client connected")
	}
	msg := map[string]any{"method": method, "params": params}
	if sessionID != "" {
		msg["sessionId"] = sessionID
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = conn.WriteJSON(msg)
}

// dropClient closes the socket from the server side.
func (f *fakeDevTools) dropClient() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close()
	}
}

func (f *fakeDevTools) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer conn.Close()

	for {
		var call fakeCall
		if err := conn.ReadJSON(&call); err != nil {
			return
		}
		f.mu.Lock()
		f.calls = append(f.calls, call)
		reply := f.reply(call)
		err := conn.WriteJSON(reply)
		f.mu.Unlock()
		if err != nil {
			return
		}
	}
}

// reply must be called with f.mu held.
func (f *fakeDevTools) reply(call fakeCall) map[string]any {
	msg := map[string]any{"id": call.ID}
	if call.SessionID != "" {
		msg["sessionId"] = call.SessionID
	}
	if text, ok := f.failWith[call.Method]; ok {
		msg["error"] = map[string]any{"code": -32000, "message": text}
		return msg
	}

	var params map[string]any
	_ = json.Unmarshal(call.Params, &params)

	result := map[string]any{}
	switch call.Method {
	case "Target.getTargets":
		infos := make([]map[string]any, 0, len(f.targets))
		for _, t := range f.targets {
			infos = append(infos, map[string]any{
				"targetId": t.ID, "type": t.Type, "url": t.URL, "title": "", "attached": false, "canAccessOpener": false,
			})
		}
		result["targetInfos"] = infos
	case "Target.attachToTarget":
		result["sessionId"] = "session-" + params["targetId"].(string)
	case "Target.createTarget":
		f.nextID++
		id := "created-" + strconv.Itoa(f.nextID)
		f.targets = append(f.targets, fakeTarget{ID: id, Type: "page", URL: params["url"].(string)})
		result["targetId"] = id
	case "Target.closeTarget":
		id := params["targetId"].(string)
		kept := f.targets[:0]
		for _, t := range f.targets {
			if t.ID != id {
				kept = append(kept, t)
			}
		}
		f.targets = kept
		result["success"] = true
	}
	msg["result"] = result
	return msg
}
