package optimizely

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// EventDispatcher submits decision and conversion events to the event
// API on behalf of one client. SendDecision and SendConversion are
// fire-and-forget: they must not block the caller and must absorb
// transport failures. Close flushes anything the dispatcher still
// buffers and releases its resources; the client calls it once during
// Client.Close.
type EventDispatcher interface {
	SendDecision(visitor Visitor, decision Decision)
	SendConversion(visitor Visitor, conversion Conversion)
	Close() error
}

// DispatcherContext carries what a dispatcher needs to talk to the
// event API: the account the events belong to and the transport to
// reach the endpoint with. The client hands one to the
// EventDispatcherFactory after the initial datafile load.
type DispatcherContext struct {
	// AccountID is the account the events belong to, from the datafile.
	AccountID string

	// AnonymizeIP is reported verbatim in every payload.
	AnonymizeIP bool

	// EventsURL is the endpoint payloads are posted to.
	EventsURL string

	// HTTPClient performs the POSTs; it carries the configured timeout.
	HTTPClient *http.Client

	// Logger receives transport and serialization problems.
	Logger Logger
}

// post serializes and delivers one payload. A failed POST is logged
// and the payload dropped. A nil payload posts nothing.
func (ctx *DispatcherContext) post(logger *leveledLogger, payload *eventPayload) {
	if payload == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("cannot marshal event payload: %v", err)
		return
	}
	response, err := ctx.HTTPClient.Post(ctx.EventsURL, "application/json", bytes.NewReader(body))
	if err != nil {
		logger.Errorf("event post failed: %v", err)
		return
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		logger.Errorf("event post returned unexpected response %v", response.Status)
		return
	}
	if logger.enabled(LogLevelDebug) {
		logger.Debugf("delivered payload with %d visitor(s) to event API", len(payload.Visitors))
	}
}

// SimpleEventDispatcher posts one payload per event, synchronously on
// the calling goroutine. It is the default dispatcher: nothing is
// batched, so there is nothing to drain at Close.
type SimpleEventDispatcher struct {
	ctx    DispatcherContext
	logger *leveledLogger
}

// NewSimpleEventDispatcher returns a dispatcher that performs one POST
// per event.
func NewSimpleEventDispatcher(ctx DispatcherContext) *SimpleEventDispatcher {
	return &SimpleEventDispatcher{
		ctx:    ctx,
		logger: newLeveledLogger(ctx.Logger, 0),
	}
}

// SendDecision implements EventDispatcher.
func (d *SimpleEventDispatcher) SendDecision(visitor Visitor, decision Decision) {
	buffer := newPayloadBuffer(d.ctx.AccountID, d.ctx.AnonymizeIP)
	buffer.addDecision(visitor, decision)
	d.ctx.post(d.logger, buffer.take())
}

// SendConversion implements EventDispatcher.
func (d *SimpleEventDispatcher) SendConversion(visitor Visitor, conversion Conversion) {
	buffer := newPayloadBuffer(d.ctx.AccountID, d.ctx.AnonymizeIP)
	buffer.addConversion(visitor, conversion)
	d.ctx.post(d.logger, buffer.take())
}

// Close implements EventDispatcher. There is nothing to flush.
func (d *SimpleEventDispatcher) Close() error {
	return nil
}
