package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
)

// Dispatcher errors.
var (
	ErrLaneFull = errors.New("conversation lane is full")
	ErrClosed   = errors.New("dispatcher is closed")
)

// job is either a message turn or, when fn is set, a control action.
type job struct {
	ctx  context.Context
	msg  chat.MessageReceived
	fn   func(context.Context)
	done chan *Turn
}

type lane struct {
	jobs chan job
}

// HandlerFunc processes one message on its lane.
type HandlerFunc func(ctx context.Context, msg chat.MessageReceived) *Turn

// Dispatcher runs one worker per conversation key. A worker exists only
// while its lane has queued messages.
type Dispatcher struct {
	handle   HandlerFunc
	capacity int

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher whose lanes buffer up to capacity
// messages.
func NewDispatcher(capacity int, handle HandlerFunc) *Dispatcher {
	if capacity < 1 {
		capacity = 1
	}
	return &Dispatcher{
		handle:   handle,
		capacity: capacity,
		lanes:    make(map[string]*lane),
	}
}

// Submit queues msg on its conversation lane. The returned channel receives
// the processed turn and is then closed.
func (d *Dispatcher) Submit(ctx context.Context, msg chat.MessageReceived) (<-chan *Turn, error) {
	return d.enqueue(msg.Key().String(), job{ctx: ctx, msg: msg, done: make(chan *Turn, 1)})
}

// Run queues fn on key's lane behind any queued turns. The returned
// channel is closed once fn returns.
func (d *Dispatcher) Run(ctx context.Context, key chat.Key, fn func(context.Context)) (<-chan *Turn, error) {
	return d.enqueue(key.String(), job{ctx: ctx, fn: fn, done: make(chan *Turn, 1)})
}

func (d *Dispatcher) enqueue(key string, j job) (<-chan *Turn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	l, ok := d.lanes[key]
	if !ok {
		l = &lane{jobs: make(chan job, d.capacity)}
		d.lanes[key] = l
		d.wg.Add(1)
		go d.run(key, l)
	}
	select {
	case l.jobs <- j:
		return j.done, nil
	default:
		return nil, ErrLaneFull
	}
}

func (d *Dispatcher) run(key string, l *lane) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(l.jobs) == 0 {
			delete(d.lanes, key)
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()

		j := <-l.jobs
		if j.fn != nil {
			j.fn(j.ctx)
		} else {
			j.done <- d.handle(j.ctx, j.msg)
		}
		close(j.done)
	}
}

// Lanes returns the number of conversations with queued or running work.
func (d *Dispatcher) Lanes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lanes)
}

// Close stops accepting messages and waits for queued work to finish or ctx
// to be done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
