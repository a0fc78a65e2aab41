package optimizely

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// recordedPayload mirrors the event API request body for decoding
// what dispatchers send.
type recordedPayload struct {
	AccountID       string            `json:"account_id"`
	Visitors        []recordedVisitor `json:"visitors"`
	EnrichDecisions bool              `json:"enrich_decisions"`
	AnonymizeIP     bool              `json:"anonymize_ip"`
	ClientName      string            `json:"client_name"`
	ClientVersion   string            `json:"client_version"`
}

type recordedVisitor struct {
	VisitorID  string             `json:"visitor_id"`
	Attributes []VisitorAttribute `json:"attributes"`
	Snapshots  []recordedSnapshot `json:"snapshots"`
}

type recordedSnapshot struct {
	Decisions []payloadDecision `json:"decisions"`
	Events    []Conversion      `json:"events"`
}

// eventServer records the payloads posted to it, standing in for the
// event API endpoint.
type eventServer struct {
	srv *httptest.Server
	t   testing.TB

	mu       sync.Mutex
	status   int
	payloads []recordedPayload
}

func newEventServer(t testing.TB) *eventServer {
	srv := &eventServer{t: t}
	srv.srv = httptest.NewServer(srv)
	t.Cleanup(srv.srv.Close)
	return srv
}

func (srv *eventServer) url() string {
	return srv.srv.URL
}

// setStatus makes the server reject subsequent posts with the given
// status code; 0 restores success.
func (srv *eventServer) setStatus(status int) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.status = status
}

func (srv *eventServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != "POST" {
		srv.t.Errorf("unexpected HTTP method: %s", req.Method)
		http.Error(w, "only POST is allowed", http.StatusMethodNotAllowed)
		return
	}
	var payload recordedPayload
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		srv.t.Errorf("malformed event payload: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.status != 0 {
		http.Error(w, "rejected", srv.status)
		return
	}
	srv.payloads = append(srv.payloads, payload)
	w.WriteHeader(http.StatusNoContent)
}

// allPayloads returns the payloads recorded so far in arrival order.
func (srv *eventServer) allPayloads() []recordedPayload {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return append([]recordedPayload(nil), srv.payloads...)
}

// waitForPayloads waits until at least n payloads have been recorded,
// or the timeout passes, and returns what arrived.
func (srv *eventServer) waitForPayloads(n int, timeout time.Duration) []recordedPayload {
	deadline := time.Now().Add(timeout)
	for {
		payloads := srv.allPayloads()
		if len(payloads) >= n || time.Now().After(deadline) {
			return payloads
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// visitorIDs returns the visitor ids of every recorded payload,
// flattened in arrival order.
func (srv *eventServer) visitorIDs() []string {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	var ids []string
	for _, payload := range srv.payloads {
		for _, visitor := range payload.Visitors {
			ids = append(ids, visitor.VisitorID)
		}
	}
	return ids
}

// dispatcherContext returns a DispatcherContext that posts to the
// server.
func (srv *eventServer) dispatcherContext() DispatcherContext {
	return DispatcherContext{
		AccountID: "12345",
		EventsURL: srv.srv.URL,
		HTTPClient: &http.Client{
			Timeout: 3 * time.Second,
		},
		Logger: newTestLogger(srv.t),
	}
}

// testDispatcher implements EventDispatcher by recording the events
// submitted through it.
type testDispatcher struct {
	mu          sync.Mutex
	visitors    []Visitor
	decisions   []Decision
	conversions []Conversion
	closed      int
}

func (d *testDispatcher) SendDecision(visitor Visitor, decision Decision) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.visitors = append(d.visitors, visitor)
	d.decisions = append(d.decisions, decision)
}

func (d *testDispatcher) SendConversion(visitor Visitor, conversion Conversion) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.visitors = append(d.visitors, visitor)
	d.conversions = append(d.conversions, conversion)
}

func (d *testDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

func (d *testDispatcher) allDecisions() []Decision {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Decision(nil), d.decisions...)
}

func (d *testDispatcher) allConversions() []Conversion {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Conversion(nil), d.conversions...)
}

func (d *testDispatcher) allVisitors() []Visitor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Visitor(nil), d.visitors...)
}

func (d *testDispatcher) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
