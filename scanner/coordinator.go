package scanner

import (
	"context"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/riadafridishibly/dirsize/api"
	"github.com/riadafridishibly/dirsize/queue"
)

type State int32

const (
	StateAwaitingNavigation State = iota
	StateScanning
	StateDraining // walk done, still answering navigation
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateAwaitingNavigation:
		return "awaiting-navigation"
	case StateScanning:
		return "scanning"
	case StateDraining:
		return "draining"
	default:
		return "stopped"
	}
}

// Navigation moves the client's cursor to Path.
type Navigation struct {
	Path []string
}

// Walk events applied per wakeup, so navigation isn't starved by a fast walk.
const walkBatch = 512

// Coordinator owns one connection's walk and size tree. It turns walk
// progress and navigation into events for the client, emitting size updates
// only for directories the client can currently see.
type Coordinator struct {
	rootPath string

	control *queue.Queue[Navigation]
	events  *queue.Queue[api.EventMessage]

	state atomic.Int32

	// Owned by the Run goroutine.
	tree       *Tree
	currentDir []string
	subscribed map[string]struct{}

	fileCount atomic.Int64

	// Unix nanoseconds, zero until the walk starts.
	walkStarted atomic.Int64
	// Nanoseconds, zero until the walk is done.
	walkTook atomic.Int64
}

func NewCoordinator(rootPath string, control *queue.Queue[Navigation], events *queue.Queue[api.EventMessage]) *Coordinator {
	return &Coordinator{
		rootPath:   rootPath,
		control:    control,
		events:     events,
		tree:       NewTree(),
		subscribed: make(map[string]struct{}),
	}
}

// Run blocks until ctx is cancelled or the control queue is closed. The walk
// starts after the first navigation.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.state.Store(int32(StateStopped))

	first, ok, err := c.awaitNavigation(ctx)
	if err != nil || !ok {
		return err
	}
	c.navigate(first.Path)

	walkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	walked := c.startWalk(walkCtx)
	walkReady := walked.Ready()
	c.state.Store(int32(StateScanning))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-c.control.Ready():
			navs, open := c.control.Pop(walkBatch)
			for _, nav := range navs {
				c.navigate(nav.Path)
			}
			if !open {
				return nil
			}

		case <-walkReady:
			evs, open := walked.Pop(walkBatch)
			for _, ev := range evs {
				c.apply(ev)
			}
			if !open {
				c.finishWalk()
				walkReady = nil
			}
		}
	}
}

func (c *Coordinator) State() State {
	return State(c.state.Load())
}

func (c *Coordinator) FileCount() int64 {
	return c.fileCount.Load()
}

// WalkDuration is how long the walk has run so far, or in total once done
// reports true. Safe to call from any goroutine.
func (c *Coordinator) WalkDuration() (d time.Duration, done bool) {
	started := c.walkStarted.Load()
	if started == 0 {
		return 0, false
	}
	if took := c.walkTook.Load(); took != 0 {
		return time.Duration(took), true
	}
	return time.Since(time.Unix(0, started)), false
}

func (c *Coordinator) awaitNavigation(ctx context.Context) (Navigation, bool, error) {
	for {
		select {
		case <-ctx.Done():
			return Navigation{}, false, ctx.Err()
		case <-c.control.Ready():
			navs, open := c.control.Pop(1)
			if len(navs) == 1 {
				return navs[0], true, nil
			}
			if !open {
				return Navigation{}, false, nil
			}
		}
	}
}

// startWalk runs the walk on its own goroutine; directory reads block for
// arbitrarily long and must not hold up navigation.
func (c *Coordinator) startWalk(ctx context.Context) *queue.Queue[Event] {
	walked := queue.New[Event]()
	c.walkStarted.Store(time.Now().UnixNano())

	go func() {
		defer walked.Close()
		for ev := range Walk(ctx, c.rootPath) {
			if ctx.Err() != nil {
				return
			}
			walked.Push(ev)
		}
	}()

	return walked
}

func (c *Coordinator) finishWalk() {
	elapsed := time.Since(time.Unix(0, c.walkStarted.Load()))
	c.walkTook.Store(max(int64(elapsed), 1))
	c.state.Store(int32(StateDraining))

	root := c.tree.EntryAt(nil)
	log.Printf("Scan of %s done: %s in %s files, took %s",
		c.rootPath,
		humanize.Bytes(root.Size),
		humanize.Comma(c.fileCount.Load()),
		elapsed.Round(time.Millisecond),
	)
}

func (c *Coordinator) navigate(path []string) {
	entries, err := ListDirectory(c.rootPath, path, c.tree)
	if err != nil {
		log.Printf("Error listing %q: %v", path, err)
	}

	space, err := AvailableSpace(c.rootPath)
	if err != nil {
		log.Printf("Error reading free space of %s: %v", c.rootPath, err)
	}

	c.currentDir = path
	c.subscribed = subscriptions(path, entries)

	c.events.Push(api.DirectoryChange{
		CurrentDirectory:  c.tree.EntryAt(path),
		Entries:           entries,
		BreadcrumbEntries: Breadcrumbs(path, c.tree),
		AvailableSpace:    space,
	})
}

func (c *Coordinator) apply(ev Event) {
	c.tree.Update(ev)

	var dir []string
	switch ev := ev.(type) {
	case FileObservation:
		c.fileCount.Add(1)
		dir = ev.Path[:len(ev.Path)-1]
	case DirEvent:
		dir = ev.Path
	}

	if _, ok := c.subscribed[PathKey(dir)]; ok {
		c.events.Push(api.SizeUpdate{Entry: c.tree.EntryAt(dir)})
	}
}

// subscriptions is every directory visible from current: the root and each
// ancestor, current itself (together the breadcrumbs), and its child
// directories.
func subscriptions(current []string, entries []api.Entry) map[string]struct{} {
	subs := make(map[string]struct{}, len(current)+1+len(entries))
	for i := 0; i <= len(current); i++ {
		subs[PathKey(current[:i])] = struct{}{}
	}
	for _, e := range entries {
		if e.IsDir() {
			subs[PathKey(e.Path)] = struct{}{}
		}
	}
	return subs
}

// PathKey turns a segment path into a map key. NUL never appears in a file
// name, so distinct paths never collide.
func PathKey(path []string) string {
	return strings.Join(path, "\x00")
}
