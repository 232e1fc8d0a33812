package msgmgr

import (
	"sync"
	"time"

	"github.com/fluxorio/msgmgr/pkg/core"
	"github.com/fluxorio/msgmgr/pkg/metrics"
	"github.com/fluxorio/msgmgr/pkg/opm"
)

// Processor drains a mailbox queue and invokes the handler bound to each
// message id. It blocks on the queue and returns when the mailbox
// deactivates.
//
// Consume rules after a handler runs: a pool-owned message is released
// back to its pool; a reusable message is left intact; anything else is
// dropped for the collector. Applications must not free messages inside
// handlers.
type Processor struct {
	pools   *opm.Manager
	logger  core.Logger
	metrics *metrics.Metrics
}

// NewProcessor creates a processor. The pool manager may be nil when no
// messages are pooled.
func NewProcessor(pools *opm.Manager, logger core.Logger, m *metrics.Metrics) *Processor {
	if logger == nil {
		logger = core.NewLogger(core.LoggerConfig{Level: "INFO", Subsystem: "msgmgr"})
	}
	return &Processor{pools: pools, logger: logger, metrics: m}
}

// Process consumes the mailbox until it deactivates. With nThreads > 1 a
// worker pool drains the same queue concurrently; handler authors are
// then responsible for their own thread safety — the framework does not
// serialize handler invocations across workers.
func (p *Processor) Process(h *MailboxOwnerHandle, nThreads int) {
	if nThreads <= 1 {
		p.loop(h.mb)
		return
	}
	var wg sync.WaitGroup
	wg.Add(nThreads)
	for i := 0; i < nThreads; i++ {
		go func() {
			defer wg.Done()
			p.loop(h.mb)
		}()
	}
	wg.Wait()
}

func (p *Processor) loop(mb *mailboxImpl) {
	name := mb.address.MailboxName
	for {
		msg := mb.dequeue()
		if msg == nil {
			return
		}

		handler, ok := mb.findHandler(msg.MessageID())
		if !ok {
			p.logger.Warnf("mailbox %q: no handler for message id 0x%04x, consuming", name, msg.MessageID())
			p.consume(msg)
			continue
		}

		start := time.Now()
		p.invoke(name, msg, handler)
		p.metrics.ObserveHandler(name, time.Since(start).Seconds())
		p.consume(msg)
	}
}

// invoke isolates handler panics so one bad handler cannot take down the
// worker draining the queue.
func (p *Processor) invoke(name string, msg Message, handler MessageHandler) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("mailbox %q: panic in handler for message id 0x%04x: %v", name, msg.MessageID(), r)
		}
	}()
	if err := handler(msg); err != nil {
		p.logger.Warnf("mailbox %q: handler for message id 0x%04x: %v", name, msg.MessageID(), err)
	}
}

func (p *Processor) consume(msg Message) {
	if p.pools != nil {
		if poolable, ok := msg.(opm.Poolable); ok && p.pools.WasCreatedByOPM(poolable) {
			if err := p.pools.ReleaseToOwner(poolable); err != nil {
				p.logger.Warnf("pool release for message id 0x%04x: %v", msg.MessageID(), err)
			}
			return
		}
	}
	// Reusable messages survive; everything else is left to the
	// collector.
}
