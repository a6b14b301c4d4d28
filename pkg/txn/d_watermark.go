package txn

import (
	"context"
	"sync/atomic"

	"tiny_mvcc/pkg/mvstore"
)

type eventTyp int

const (
	beginEvent eventTyp = iota
	doneEvent
	waitForEvent
)

type event struct {
	typ     eventTyp
	version mvstore.Version
	waitCh  chan struct{}
}

// WaterMark tracks a set of in-flight versions and reports the highest
// version below which everything begun has finished. A single goroutine owns
// the state; callers talk to it over eventCh.
type WaterMark struct {
	eventCh  chan event
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopped  atomic.Bool
	markHeap *markHeap
}

func NewWaterMark(doneTill mvstore.Version) *WaterMark {
	w := &WaterMark{
		eventCh:  make(chan event),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		markHeap: newMarkHeap(doneTill),
	}
	go w.run()
	return w
}

func (w *WaterMark) Begin(version mvstore.Version) {
	w.send(event{typ: beginEvent, version: version})
}

func (w *WaterMark) Done(version mvstore.Version) {
	w.send(event{typ: doneEvent, version: version})
}

func (w *WaterMark) send(e event) {
	select {
	case w.eventCh <- e:
	case <-w.doneCh:
	}
}

// WaitFor blocks until every version up to and including version is done.
func (w *WaterMark) WaitFor(ctx context.Context, version mvstore.Version) error {
	if w.DoneTill() >= version {
		return nil
	}

	waitCh := make(chan struct{})
	select {
	case w.eventCh <- event{typ: waitForEvent, version: version, waitCh: waitCh}:
	case <-w.doneCh:
		return DbAlreadyStoppedErr
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-waitCh:
		if w.DoneTill() < version {
			return DbAlreadyStoppedErr
		}
		return nil
	}
}

func (w *WaterMark) DoneTill() mvstore.Version {
	return w.markHeap.doneTill.Load()
}

func (w *WaterMark) Stop() {
	if w.stopped.CompareAndSwap(false, true) {
		close(w.stopCh)
		<-w.doneCh
	}
}

func (w *WaterMark) run() {
	defer close(w.doneCh)
	for {
		select {
		case e := <-w.eventCh:
			switch e.typ {
			case beginEvent:
				w.markHeap.addBegin(e.version)
				w.markHeap.closeWaitersUntil(w.markHeap.recalculate())
			case doneEvent:
				w.markHeap.addDone(e.version)
				w.markHeap.closeWaitersUntil(w.markHeap.recalculate())
			case waitForEvent:
				w.processWaitEvent(e)
			default:
				panic("unknown event type")
			}
		case <-w.stopCh:
			w.markHeap.closeAllWaiters()
			return
		}
	}
}

func (w *WaterMark) processWaitEvent(e event) {
	if w.DoneTill() >= e.version {
		close(e.waitCh)
		return
	}
	w.markHeap.addWaiter(e.version, e.waitCh)
}
