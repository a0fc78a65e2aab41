package optimizely

import (
	"sync"
	"time"
)

const (
	// batchThreshold is the number of distinct visitors that triggers
	// a flush of the in-flight payload.
	batchThreshold = 10

	// inputQueueSize bounds the channel between callers and the
	// worker. A full queue drops new events instead of blocking the
	// caller.
	inputQueueSize = 4096
)

// Messages carried from callers to the worker goroutine.
type (
	decisionMessage struct {
		visitor  Visitor
		decision Decision
	}
	conversionMessage struct {
		visitor    Visitor
		conversion Conversion
	}
	flushMessage struct{}
)

// BatchedEventDispatcher groups events into payloads of up to
// batchThreshold distinct visitors and posts them from a single,
// long-lived worker goroutine. The worker exclusively owns the payload
// buffer; callers only ever touch the input queue. Events submitted
// for one user appear on the wire in submission order because the one
// worker drains a FIFO.
//
// A failed POST logs the error and drops that batch; the worker keeps
// running.
type BatchedEventDispatcher struct {
	ctx        DispatcherContext
	logger     *leveledLogger
	flushEvery time.Duration

	inputQueue chan interface{}

	// mu guards closed and overflowed; the queue must not be written
	// after close.
	mu         sync.Mutex
	closed     bool
	overflowed bool

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewBatchedEventDispatcher returns a dispatcher that batches events
// before posting them. A flushInterval greater than zero additionally
// flushes partial payloads at that cadence; zero disables time-based
// flushing and payloads wait for the batch threshold or Close.
func NewBatchedEventDispatcher(ctx DispatcherContext, flushInterval time.Duration) *BatchedEventDispatcher {
	d := &BatchedEventDispatcher{
		ctx:        ctx,
		logger:     newLeveledLogger(ctx.Logger, 0),
		flushEvery: flushInterval,
		inputQueue: make(chan interface{}, inputQueueSize),
	}
	d.wg.Add(1)
	go d.runWorker()
	return d
}

// SendDecision implements EventDispatcher. The decision event is
// accompanied by a campaign_activated conversion in the same visitor
// snapshot when the batch is assembled.
func (d *BatchedEventDispatcher) SendDecision(visitor Visitor, decision Decision) {
	d.submit(decisionMessage{visitor: visitor, decision: decision})
}

// SendConversion implements EventDispatcher.
func (d *BatchedEventDispatcher) SendConversion(visitor Visitor, conversion Conversion) {
	d.submit(conversionMessage{visitor: visitor, conversion: conversion})
}

// Flush asks the worker to post the current partial payload without
// waiting for the batch threshold. It does not wait for the POST.
func (d *BatchedEventDispatcher) Flush() {
	d.submit(flushMessage{})
}

func (d *BatchedEventDispatcher) submit(message interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warnf("event dispatcher is closed; dropping event")
		return
	}
	select {
	case d.inputQueue <- message:
		d.overflowed = false
	default:
		if !d.overflowed {
			d.logger.Warnf("event queue capacity %d exceeded; dropping events until the worker catches up", inputQueueSize)
			d.overflowed = true
		}
	}
}

// Close implements EventDispatcher: it closes the input queue, lets
// the worker drain the remaining messages, post a final payload and
// exit, then returns. Close is idempotent and safe to call
// concurrently with Send calls.
func (d *BatchedEventDispatcher) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.inputQueue)
		d.mu.Unlock()
		d.wg.Wait()
	})
	return nil
}

func (d *BatchedEventDispatcher) runWorker() {
	defer d.wg.Done()
	buffer := newPayloadBuffer(d.ctx.AccountID, d.ctx.AnonymizeIP)
	var tick <-chan time.Time
	if d.flushEvery > 0 {
		ticker := time.NewTicker(d.flushEvery)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case message, ok := <-d.inputQueue:
			if !ok {
				d.ctx.post(d.logger, buffer.take())
				return
			}
			switch m := message.(type) {
			case decisionMessage:
				buffer.addDecision(m.visitor, m.decision)
			case conversionMessage:
				buffer.addConversion(m.visitor, m.conversion)
			case flushMessage:
				d.ctx.post(d.logger, buffer.take())
			}
			if buffer.size() >= batchThreshold {
				d.ctx.post(d.logger, buffer.take())
			}
		case <-tick:
			d.ctx.post(d.logger, buffer.take())
		}
	}
}
