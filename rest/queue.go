package rest

import (
	"container/list"
	"context"
	"sync"
)

// Backpressure selects what Submit does when the queue is full.
type Backpressure int

const (
	// Block waits for space, bounded by the SubmitContext context.
	Block Backpressure = iota
	// Reject fails immediately with ErrQueueFull.
	Reject
)

func (b Backpressure) String() string {
	if b == Reject {
		return "reject"
	}
	return "block"
}

// sendQueue is the FIFO shared by the workers. Every call added gets the next
// epoch, so dequeue order equals epoch order.
type sendQueue struct {
	sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	capacity int // 0 is unbounded
	epoch    uint64
	items    *list.List
	elements map[*call]*list.Element
	closed   bool
}

func makeSendQueue(capacity int) *sendQueue {
	q := &sendQueue{
		capacity: capacity,
		items:    list.New(),
		elements: make(map[*call]*list.Element),
	}
	q.notEmpty = sync.NewCond(&q.Mutex)
	q.notFull = sync.NewCond(&q.Mutex)

	return q
}

func (q *sendQueue) full() bool {
	return q.capacity > 0 && q.items.Len() >= q.capacity
}

// add enqueues c. Under Block it waits for space until ctx is done.
func (q *sendQueue) add(ctx context.Context, c *call, policy Backpressure) error {
	q.Lock()
	defer q.Unlock()

	if q.full() && policy == Block {
		stop := context.AfterFunc(ctx, func() {
			q.Lock()
			q.notFull.Broadcast()
			q.Unlock()
		})
		defer stop()

		for q.full() && !q.closed && ctx.Err() == nil {
			q.notFull.Wait()
		}
	}

	switch {
	case q.closed:
		return ErrNotRunning
	case q.full() && policy == Reject:
		return ErrQueueFull
	case q.full():
		return ctx.Err()
	}

	q.epoch++
	c.req.Seq = q.epoch
	q.elements[c] = q.items.PushBack(c)
	q.notEmpty.Signal()

	return nil
}

// next blocks until a call is available. It returns false once the queue is
// closed.
func (q *sendQueue) next() (*call, bool) {
	q.Lock()
	defer q.Unlock()

	for q.items.Len() == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.closed {
		return nil, false
	}

	c := q.items.Remove(q.items.Front()).(*call)
	delete(q.elements, c)
	q.notFull.Signal()

	return c, true
}

// remove takes c out of the queue if no worker picked it up yet.
func (q *sendQueue) remove(c *call) bool {
	q.Lock()
	defer q.Unlock()

	el, ok := q.elements[c]
	if !ok {
		return false
	}
	q.items.Remove(el)
	delete(q.elements, c)
	q.notFull.Signal()

	return true
}

// close wakes every waiter and returns the calls that were still queued.
func (q *sendQueue) close() []*call {
	q.Lock()
	defer q.Unlock()

	q.closed = true
	var left []*call
	for el := q.items.Front(); el != nil; el = el.Next() {
		left = append(left, el.Value.(*call))
	}
	q.items.Init()
	q.elements = make(map[*call]*list.Element)
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()

	return left
}

// status returns the last epoch handed out and the number of queued calls.
func (q *sendQueue) status() (uint64, int) {
	q.Lock()
	defer q.Unlock()

	return q.epoch, q.items.Len()
}
