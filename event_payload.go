package optimizely

// Wire structs for the event API request body. Field names follow the
// snake_case JSON the endpoint expects.

// activateEventKey is the key of the conversion event that accompanies
// every decision event, attributing the activation to its campaign.
const activateEventKey = "campaign_activated"

// VisitorAttribute is the wire form of one user attribute: the value
// is stringified per the event API rules regardless of its datafile
// type.
type VisitorAttribute struct {
	// EntityID is the datafile id of the attribute key; empty when the
	// datafile does not register the key.
	EntityID string `json:"entity_id"`
	Key      string `json:"key"`
	// Type is always "custom".
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Visitor identifies one user on the event API wire: the user id plus
// the attributes the user carried when the event was submitted.
type Visitor struct {
	VisitorID  string             `json:"visitor_id"`
	Attributes []VisitorAttribute `json:"attributes"`
}

// newVisitor snapshots a user context into its wire form. Dispatchers
// receive the snapshot rather than the context itself, so later
// attribute mutations do not affect events already submitted.
func newVisitor(user *UserContext) Visitor {
	attributes := user.Attributes()
	wire := make([]VisitorAttribute, 0, len(attributes))
	for _, attribute := range attributes {
		wire = append(wire, VisitorAttribute{
			EntityID: attribute.ID,
			Key:      attribute.Key,
			Type:     "custom",
			Value:    attribute.Value.String(),
		})
	}
	return Visitor{VisitorID: user.userID, Attributes: wire}
}

// payloadDecision attributes one decision to its campaign, experiment
// and variation.
type payloadDecision struct {
	CampaignID         string `json:"campaign_id"`
	ExperimentID       string `json:"experiment_id"`
	VariationID        string `json:"variation_id"`
	IsCampaignHoldback bool   `json:"is_campaign_holdback"`
}

// visitorSnapshot groups the decisions and conversions reported for
// one visitor within one payload.
type visitorSnapshot struct {
	Decisions []payloadDecision `json:"decisions"`
	Events    []Conversion      `json:"events"`
}

type payloadVisitor struct {
	Visitor
	Snapshots [1]*visitorSnapshot `json:"snapshots"`
}

// eventPayload is one event API request body.
type eventPayload struct {
	AccountID       string            `json:"account_id"`
	Visitors        []*payloadVisitor `json:"visitors"`
	EnrichDecisions bool              `json:"enrich_decisions"`
	AnonymizeIP     bool              `json:"anonymize_ip"`
	ClientName      string            `json:"client_name"`
	ClientVersion   string            `json:"client_version"`
}

// payloadBuffer accumulates events grouped by visitor until its owner
// flushes it. It is not safe for concurrent use: the batched
// dispatcher confines it to the worker goroutine and the simple
// dispatcher builds a fresh one per call.
type payloadBuffer struct {
	accountID   string
	anonymizeIP bool
	visitors    []*payloadVisitor
	byVisitorID map[string]*payloadVisitor
}

func newPayloadBuffer(accountID string, anonymizeIP bool) *payloadBuffer {
	return &payloadBuffer{
		accountID:   accountID,
		anonymizeIP: anonymizeIP,
		byVisitorID: make(map[string]*payloadVisitor),
	}
}

// visitor returns the buffer entry for the visitor, creating it on
// first sight. Within one payload the first sighting's attributes win.
func (b *payloadBuffer) visitor(v Visitor) *payloadVisitor {
	if entry, ok := b.byVisitorID[v.VisitorID]; ok {
		return entry
	}
	entry := &payloadVisitor{Visitor: v}
	entry.Snapshots[0] = &visitorSnapshot{
		Decisions: []payloadDecision{},
		Events:    []Conversion{},
	}
	b.visitors = append(b.visitors, entry)
	b.byVisitorID[v.VisitorID] = entry
	return entry
}

// addDecision records one decision event plus the campaign_activated
// conversion that accompanies it, in the same visitor snapshot.
func (b *payloadBuffer) addDecision(v Visitor, decision Decision) {
	snapshot := b.visitor(v).Snapshots[0]
	snapshot.Decisions = append(snapshot.Decisions, payloadDecision{
		CampaignID:   decision.CampaignID,
		ExperimentID: decision.ExperimentID,
		VariationID:  decision.VariationID,
	})
	snapshot.Events = append(snapshot.Events, newConversion(decision.CampaignID, activateEventKey, nil, nil))
}

// addConversion records one conversion event.
func (b *payloadBuffer) addConversion(v Visitor, conversion Conversion) {
	snapshot := b.visitor(v).Snapshots[0]
	snapshot.Events = append(snapshot.Events, conversion)
}

// size is the number of distinct visitors buffered.
func (b *payloadBuffer) size() int {
	return len(b.visitors)
}

// take assembles the request body from the buffered visitors and
// resets the buffer. It returns nil when nothing is buffered.
func (b *payloadBuffer) take() *eventPayload {
	if len(b.visitors) == 0 {
		return nil
	}
	payload := &eventPayload{
		AccountID:       b.accountID,
		Visitors:        b.visitors,
		EnrichDecisions: true,
		AnonymizeIP:     b.anonymizeIP,
		ClientName:      clientName,
		ClientVersion:   version,
	}
	b.visitors = nil
	b.byVisitorID = make(map[string]*payloadVisitor)
	return payload
}
