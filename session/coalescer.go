package session

import (
	"context"
	"sync"
	"time"

	"github.com/riadafridishibly/dirsize/api"
	"github.com/riadafridishibly/dirsize/queue"
	"github.com/riadafridishibly/dirsize/scanner"
)

const coalesceBatch = 256

// Coalescer rate limits in-progress size updates per directory. Directory
// changes and delete notifications pass straight through, in order.
type Coalescer struct {
	window time.Duration
	in     *queue.Queue[api.EventMessage]
	out    *queue.Queue[api.EventMessage]

	mu sync.Mutex
	// Bumped on every directory change; timers armed before it are stale.
	generation uint64
	pending    map[string]*pendingUpdate
}

type pendingUpdate struct {
	entry      api.Entry
	timer      *time.Timer
	generation uint64
}

func NewCoalescer(window time.Duration, in, out *queue.Queue[api.EventMessage]) *Coalescer {
	return &Coalescer{
		window:  window,
		in:      in,
		out:     out,
		pending: make(map[string]*pendingUpdate),
	}
}

// Run forwards events from in to out until in is closed or ctx is done.
// out is closed on return and anything still pending is dropped.
func (c *Coalescer) Run(ctx context.Context) error {
	defer c.stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.in.Ready():
			events, open := c.in.Pop(coalesceBatch)
			for _, ev := range events {
				c.handle(ev)
			}
			if !open {
				return nil
			}
		}
	}
}

func (c *Coalescer) handle(ev api.EventMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	update, ok := ev.(api.SizeUpdate)
	if !ok {
		if _, ok := ev.(api.DirectoryChange); ok {
			c.resetLocked()
		}
		c.out.Push(ev)
		return
	}

	key := scanner.PathKey(update.Entry.Path)
	if update.Entry.Updating == api.StatusUpdating && update.Entry.Size != 0 {
		if p, ok := c.pending[key]; ok {
			p.entry = update.Entry
			return
		}
		p := &pendingUpdate{entry: update.Entry, generation: c.generation}
		p.timer = time.AfterFunc(c.window, func() { c.flush(key, p) })
		c.pending[key] = p
		return
	}

	if p, ok := c.pending[key]; ok {
		p.timer.Stop()
		delete(c.pending, key)
	}
	c.out.Push(update)
}

// flush runs on the timer goroutine.
func (c *Coalescer) flush(key string, p *pendingUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending[key] != p || p.generation != c.generation {
		return
	}
	delete(c.pending, key)
	c.out.Push(api.SizeUpdate{Entry: p.entry})
}

func (c *Coalescer) resetLocked() {
	for _, p := range c.pending {
		p.timer.Stop()
	}
	clear(c.pending)
	c.generation++
}

func (c *Coalescer) stop() {
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()

	c.out.Close()
}
