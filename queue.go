package periph

import "sync"

// EventQueue is an unbounded FIFO of events drained into a channel.
// Push never blocks, so a transport read loop cannot stall behind the dispatcher.
type EventQueue struct {
	sync.Mutex
	cond   *sync.Cond
	items  []Event
	closed bool

	out  chan Event
	done chan struct{}
}

func NewEventQueue() *EventQueue {
	q := &EventQueue{
		out:  make(chan Event),
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.Mutex)
	go q.pump()
	return q
}

// Push appends e. It reports false once the queue is closed.
func (q *EventQueue) Push(e Event) bool {
	q.Lock()
	defer q.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, e)
	q.cond.Signal()
	return true
}

// C delivers events in push order. It is closed after Close.
func (q *EventQueue) C() <-chan Event {
	return q.out
}

// Len is the number of events not yet taken from C.
func (q *EventQueue) Len() int {
	q.Lock()
	defer q.Unlock()
	return len(q.items)
}

// Close stops the queue. Undelivered events are dropped.
func (q *EventQueue) Close() {
	q.Lock()
	defer q.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
	q.cond.Broadcast()
}

func (q *EventQueue) pump() {
	defer close(q.out)
	for {
		q.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.items = nil
			q.Unlock()
			return
		}
		e := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.Unlock()

		select {
		case q.out <- e:
		case <-q.done:
			return
		}
	}
}
