package optimizelytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Payload is one decoded event API request body.
type Payload struct {
	AccountID       string    `json:"account_id"`
	Visitors        []Visitor `json:"visitors"`
	EnrichDecisions bool      `json:"enrich_decisions"`
	AnonymizeIP     bool      `json:"anonymize_ip"`
	ClientName      string    `json:"client_name"`
	ClientVersion   string    `json:"client_version"`
}

// Visitor is one visitor entry of a payload.
type Visitor struct {
	VisitorID  string      `json:"visitor_id"`
	Attributes []Attribute `json:"attributes"`
	Snapshots  []Snapshot  `json:"snapshots"`
}

// Attribute is one stringified visitor attribute.
type Attribute struct {
	EntityID string `json:"entity_id"`
	Key      string `json:"key"`
	Type     string `json:"type"`
	Value    string `json:"value"`
}

// Snapshot groups the decisions and conversion events reported for
// one visitor.
type Snapshot struct {
	Decisions []Decision `json:"decisions"`
	Events    []Event    `json:"events"`
}

// Decision attributes one decision to its campaign, experiment and
// variation.
type Decision struct {
	CampaignID         string `json:"campaign_id"`
	ExperimentID       string `json:"experiment_id"`
	VariationID        string `json:"variation_id"`
	IsCampaignHoldback bool   `json:"is_campaign_holdback"`
}

// Event is one conversion event of a snapshot.
type Event struct {
	UUID       string            `json:"uuid"`
	Timestamp  int64             `json:"timestamp"`
	EntityID   string            `json:"entity_id"`
	Key        string            `json:"key"`
	Properties map[string]string `json:"properties"`
	Tags       map[string]string `json:"tags"`
}

// EventSink is an http.Handler that records every payload posted to
// it, standing in for the event API endpoint. The zero value is ready
// to use.
type EventSink struct {
	mu       sync.Mutex
	payloads []Payload
}

// ServeHTTP implements http.Handler.
func (s *EventSink) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != "POST" {
		http.Error(w, "only POST is allowed", http.StatusMethodNotAllowed)
		return
	}
	var payload Payload
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("malformed event payload: %v", err), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.payloads = append(s.payloads, payload)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// Payloads returns the payloads recorded so far in arrival order.
func (s *EventSink) Payloads() []Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Payload(nil), s.payloads...)
}

// VisitorIDs returns the visitor ids of every recorded payload,
// flattened in arrival order.
func (s *EventSink) VisitorIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, payload := range s.payloads {
		for _, visitor := range payload.Visitors {
			ids = append(ids, visitor.VisitorID)
		}
	}
	return ids
}

// WaitForPayloads waits until at least n payloads have been recorded
// and returns them, or reports false when the timeout passes first.
// It is useful with dispatchers that post in the background.
func (s *EventSink) WaitForPayloads(n int, timeout time.Duration) ([]Payload, bool) {
	deadline := time.Now().Add(timeout)
	for {
		payloads := s.Payloads()
		if len(payloads) >= n {
			return payloads, true
		}
		if time.Now().After(deadline) {
			return payloads, false
		}
		time.Sleep(5 * time.Millisecond)
	}
}
