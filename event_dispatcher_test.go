package optimizely

import (
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestSimpleDispatcherSendDecision(t *testing.T) {
	c := qt.New(t)
	srv := newEventServer(t)
	dispatcher := NewSimpleEventDispatcher(srv.dispatcherContext())

	visitor := Visitor{
		VisitorID: "user1",
		Attributes: []VisitorAttribute{
			{EntityID: "attr-country", Key: "country", Type: "custom", Value: "US"},
		},
	}
	dispatcher.SendDecision(visitor, Decision{
		FlagKey:      "checkout_redesign",
		CampaignID:   "camp-1",
		ExperimentID: "exp-1",
		VariationID:  "var-1",
		VariationKey: "treatment",
		Enabled:      true,
	})

	payloads := srv.allPayloads()
	c.Assert(payloads, qt.HasLen, 1)
	payload := payloads[0]
	c.Assert(payload.AccountID, qt.Equals, "12345")
	c.Assert(payload.EnrichDecisions, qt.IsTrue)
	c.Assert(payload.AnonymizeIP, qt.IsFalse)
	c.Assert(payload.ClientName, qt.Equals, "go-sdk")
	c.Assert(payload.ClientVersion, qt.Equals, "1.0.0")

	c.Assert(payload.Visitors, qt.HasLen, 1)
	got := payload.Visitors[0]
	c.Assert(got.VisitorID, qt.Equals, "user1")
	c.Assert(got.Attributes, qt.DeepEquals, visitor.Attributes)
	c.Assert(got.Snapshots, qt.HasLen, 1)
	c.Assert(got.Snapshots[0].Decisions, qt.DeepEquals, []payloadDecision{{
		CampaignID:   "camp-1",
		ExperimentID: "exp-1",
		VariationID:  "var-1",
	}})

	// The decision travels with a campaign_activated conversion
	// attributed to its campaign.
	c.Assert(got.Snapshots[0].Events, qt.HasLen, 1)
	activation := got.Snapshots[0].Events[0]
	c.Assert(activation.Key, qt.Equals, "campaign_activated")
	c.Assert(activation.EntityID, qt.Equals, "camp-1")
	c.Assert(activation.UUID, qt.Not(qt.Equals), "")
	c.Assert(activation.Timestamp > 0, qt.IsTrue)
	c.Assert(activation.Properties, qt.DeepEquals, map[string]string{})
	c.Assert(activation.Tags, qt.DeepEquals, map[string]string{})
}

func TestSimpleDispatcherSendConversion(t *testing.T) {
	c := qt.New(t)
	srv := newEventServer(t)
	dispatcher := NewSimpleEventDispatcher(srv.dispatcherContext())

	conversion := Conversion{
		UUID:       "11111111-2222-3333-4444-555555555555",
		Timestamp:  1700000000000,
		EntityID:   "ev-purchase",
		Key:        "purchase",
		Properties: map[string]string{"category": "shoes"},
		Tags:       map[string]string{"revenue": "4200"},
	}
	dispatcher.SendConversion(Visitor{VisitorID: "buyer"}, conversion)

	payloads := srv.allPayloads()
	c.Assert(payloads, qt.HasLen, 1)
	c.Assert(payloads[0].Visitors, qt.HasLen, 1)
	got := payloads[0].Visitors[0]
	c.Assert(got.VisitorID, qt.Equals, "buyer")
	c.Assert(got.Snapshots, qt.HasLen, 1)
	c.Assert(got.Snapshots[0].Decisions, qt.HasLen, 0)
	c.Assert(got.Snapshots[0].Events, qt.DeepEquals, []Conversion{conversion})
}

func TestSimpleDispatcherOnePostPerEvent(t *testing.T) {
	c := qt.New(t)
	srv := newEventServer(t)
	dispatcher := NewSimpleEventDispatcher(srv.dispatcherContext())

	visitor := Visitor{VisitorID: "user1"}
	dispatcher.SendDecision(visitor, Decision{FlagKey: "f", CampaignID: "camp-1", ExperimentID: "exp-1", VariationID: "var-1"})
	dispatcher.SendDecision(visitor, Decision{FlagKey: "f", CampaignID: "camp-1", ExperimentID: "exp-1", VariationID: "var-1"})

	c.Assert(srv.allPayloads(), qt.HasLen, 2)
	c.Assert(srv.visitorIDs(), qt.DeepEquals, []string{"user1", "user1"})
}

func TestSimpleDispatcherAnonymizeIP(t *testing.T) {
	c := qt.New(t)
	srv := newEventServer(t)
	ctx := srv.dispatcherContext()
	ctx.AnonymizeIP = true
	dispatcher := NewSimpleEventDispatcher(ctx)

	dispatcher.SendConversion(Visitor{VisitorID: "user1"}, Conversion{EntityID: "ev-1", Key: "purchase"})

	payloads := srv.allPayloads()
	c.Assert(payloads, qt.HasLen, 1)
	c.Assert(payloads[0].AnonymizeIP, qt.IsTrue)
}

func TestSimpleDispatcherServerError(t *testing.T) {
	c := qt.New(t)
	srv := newEventServer(t)
	logger := newTestLogger(t)
	ctx := srv.dispatcherContext()
	ctx.Logger = logger
	dispatcher := NewSimpleEventDispatcher(ctx)

	srv.setStatus(502)
	dispatcher.SendDecision(Visitor{VisitorID: "user1"}, Decision{CampaignID: "camp-1", ExperimentID: "exp-1", VariationID: "var-1"})
	c.Assert(srv.allPayloads(), qt.HasLen, 0)
	c.Assert(strings.Join(logger.allLogs(), "\n"), qt.Contains, "event post returned unexpected response 502")

	// A failed POST doesn't wedge the dispatcher.
	srv.setStatus(0)
	dispatcher.SendConversion(Visitor{VisitorID: "user1"}, Conversion{EntityID: "ev-1", Key: "purchase"})
	c.Assert(srv.allPayloads(), qt.HasLen, 1)
}

func TestSimpleDispatcherUnreachableEndpoint(t *testing.T) {
	c := qt.New(t)
	logger := newTestLogger(t)
	srv := newEventServer(t)
	ctx := srv.dispatcherContext()
	ctx.EventsURL = "http://127.0.0.1:0/v1/events"
	ctx.Logger = logger
	dispatcher := NewSimpleEventDispatcher(ctx)

	dispatcher.SendConversion(Visitor{VisitorID: "user1"}, Conversion{EntityID: "ev-1", Key: "purchase"})
	c.Assert(srv.allPayloads(), qt.HasLen, 0)
	c.Assert(strings.Join(logger.allLogs(), "\n"), qt.Contains, "event post failed")
}

func TestSimpleDispatcherClose(t *testing.T) {
	c := qt.New(t)
	srv := newEventServer(t)
	dispatcher := NewSimpleEventDispatcher(srv.dispatcherContext())
	c.Assert(dispatcher.Close(), qt.IsNil)
}
