package cdc

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"tiny_mvcc/pkg/metrics"
	"tiny_mvcc/pkg/mvstore"
)

// Listener is called from the emitter goroutine, one change set at a time,
// in version order. It may commit through the database; the next change set
// is delivered once it returns.
type Listener func(changeSet *ChangeSet)

type request struct {
	version   mvstore.Version
	changeSet *ChangeSet // nil marks a version that never committed
	flushCh   chan struct{}
}

// Emitter sequences change sets. Commits publish concurrently and out of
// order; consumers see every committed version exactly once, in increasing
// order, with no gaps other than skipped versions.
//
// Publishing only queues the change set, so consumers never hold up commits.
// A consumer that falls behind holds back delivery to the others and the
// queued change sets stay in memory until it catches up.
type Emitter struct {
	sync.Mutex // guards listeners, subscriptions, queue and stopped
	listeners     []Listener
	subscriptions map[uint64]*Subscription
	nextSubID     uint64
	queue         []request
	stopped       bool

	notifyCh  chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	delivered atomic.Uint64

	// owned by the run goroutine
	next     mvstore.Version
	maxSeen  mvstore.Version
	pending  map[mvstore.Version]*ChangeSet
	flushers []flusher

	logger *zap.Logger
}

type flusher struct {
	till mvstore.Version
	ch   chan struct{}
}

// NewEmitter starts an emitter that expects lastVersion+1 as the next
// version.
func NewEmitter(lastVersion mvstore.Version, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	emitter := &Emitter{
		subscriptions: make(map[uint64]*Subscription),
		notifyCh:      make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		next:          lastVersion + 1,
		maxSeen:       lastVersion,
		pending:       make(map[mvstore.Version]*ChangeSet),
		logger:        logger,
	}
	emitter.delivered.Store(lastVersion)
	go emitter.run()
	return emitter
}

// Publish hands over the change set of a committed version. It never waits
// for consumers and fails only once the emitter is stopped.
func (e *Emitter) Publish(changeSet *ChangeSet) error {
	return e.enqueue(request{version: changeSet.Version, changeSet: changeSet})
}

// Skip releases a version that was allocated but never committed.
func (e *Emitter) Skip(version mvstore.Version) error {
	return e.enqueue(request{version: version})
}

func (e *Emitter) enqueue(req request) error {
	e.Lock()
	if e.stopped {
		e.Unlock()
		return EmitterStoppedErr
	}
	e.queue = append(e.queue, req)
	e.Unlock()

	select {
	case e.notifyCh <- struct{}{}:
	default:
	}
	return nil
}

func (e *Emitter) takeQueue() []request {
	e.Lock()
	defer e.Unlock()
	queue := e.queue
	e.queue = nil
	return queue
}

func (e *Emitter) AddListener(listener Listener) {
	e.Lock()
	defer e.Unlock()
	e.listeners = append(e.listeners, listener)
}

// Subscribe returns a channel subscription. A slow subscriber holds back
// delivery to every consumer, so size buffer for the expected burst.
func (e *Emitter) Subscribe(buffer int) *Subscription {
	e.Lock()
	defer e.Unlock()

	e.nextSubID++
	sub := &Subscription{
		id:      e.nextSubID,
		ch:      make(chan *ChangeSet, buffer),
		closed:  make(chan struct{}),
		emitter: e,
	}
	if e.stopped {
		close(sub.ch)
		return sub
	}
	e.subscriptions[sub.id] = sub
	return sub
}

func (e *Emitter) unsubscribe(id uint64) {
	e.Lock()
	defer e.Unlock()
	delete(e.subscriptions, id)
}

// Delivered is the highest version handed to every consumer.
func (e *Emitter) Delivered() mvstore.Version {
	return e.delivered.Load()
}

// Flush waits until every version published before the call has been
// delivered.
func (e *Emitter) Flush(ctx context.Context) error {
	ch := make(chan struct{})
	if e.enqueue(request{flushCh: ch}) != nil {
		return nil
	}

	select {
	case <-ch:
		return nil
	case <-e.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends delivery and closes every subscription channel. Change sets not
// yet delivered are dropped; Flush first to drain them.
func (e *Emitter) Stop() {
	e.Lock()
	if e.stopped {
		e.Unlock()
		<-e.doneCh
		return
	}
	e.stopped = true
	e.Unlock()

	close(e.stopCh)
	<-e.doneCh
}

func (e *Emitter) run() {
	defer close(e.doneCh)
	for {
		select {
		case <-e.notifyCh:
		case <-e.stopCh:
			e.processClose()
			return
		}

		for _, req := range e.takeQueue() {
			if req.flushCh != nil {
				e.flushers = append(e.flushers, flusher{till: e.maxSeen, ch: req.flushCh})
			} else {
				e.accept(req)
				if !e.drain() {
					e.processClose()
					return
				}
			}
			e.releaseFlushers()
		}
	}
}

func (e *Emitter) accept(req request) {
	if req.version < e.next {
		e.logger.Warn("cdc version published twice", zap.Uint64("version", req.version))
		return
	}
	e.pending[req.version] = req.changeSet
	if req.version > e.maxSeen {
		e.maxSeen = req.version
	}
}

func (e *Emitter) drain() bool {
	for {
		changeSet, ok := e.pending[e.next]
		if !ok {
			return true
		}
		delete(e.pending, e.next)

		if changeSet == nil {
			metrics.CdcSkippedCounter.Inc()
		} else if !e.deliver(changeSet) {
			return false
		}
		e.delivered.Store(e.next)
		e.next++
	}
}

func (e *Emitter) deliver(changeSet *ChangeSet) bool {
	e.Lock()
	listeners := append([]Listener(nil), e.listeners...)
	subscriptions := make([]*Subscription, 0, len(e.subscriptions))
	for _, sub := range e.subscriptions {
		subscriptions = append(subscriptions, sub)
	}
	e.Unlock()

	for _, listener := range listeners {
		listener(changeSet)
	}
	for _, sub := range subscriptions {
		select {
		case sub.ch <- changeSet:
		case <-sub.closed:
		case <-e.stopCh:
			return false
		}
	}

	metrics.CdcDeliveredCounter.Inc()
	e.logger.Debug("cdc change set delivered",
		zap.Uint64("version", changeSet.Version),
		zap.Int("changes", len(changeSet.Changes)))
	return true
}

func (e *Emitter) releaseFlushers() {
	delivered := e.delivered.Load()
	remaining := e.flushers[:0]
	for _, f := range e.flushers {
		if f.till <= delivered {
			close(f.ch)
			continue
		}
		remaining = append(remaining, f)
	}
	e.flushers = remaining
}

func (e *Emitter) processClose() {
	e.Lock()
	defer e.Unlock()

	for id, sub := range e.subscriptions {
		close(sub.ch)
		delete(e.subscriptions, id)
	}
	for _, f := range e.flushers {
		close(f.ch)
	}
	e.flushers = nil
	e.queue = nil
}

// Subscription receives change sets on C until Close or the emitter stops.
type Subscription struct {
	id      uint64
	ch      chan *ChangeSet
	closed  chan struct{}
	once    sync.Once
	emitter *Emitter
}

func (s *Subscription) C() <-chan *ChangeSet {
	return s.ch
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.closed)
		s.emitter.unsubscribe(s.id)
	})
}
