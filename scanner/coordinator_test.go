package scanner

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/riadafridishibly/dirsize/api"
	"github.com/riadafridishibly/dirsize/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type coordinatorHarness struct {
	t       *testing.T
	coord   *Coordinator
	control *queue.Queue[Navigation]
	events  *queue.Queue[api.EventMessage]
	done    chan error
	cancel  context.CancelFunc
}

func startCoordinator(t *testing.T, root string) *coordinatorHarness {
	t.Helper()
	h := &coordinatorHarness{
		t:       t,
		control: queue.New[Navigation](),
		events:  queue.New[api.EventMessage](),
		done:    make(chan error, 1),
	}
	h.coord = NewCoordinator(root, h.control, h.events)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.coord.Run(ctx) }()
	t.Cleanup(cancel)
	return h
}

// next returns the next event or fails after a timeout.
func (h *coordinatorHarness) next() api.EventMessage {
	h.t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		batch, _ := h.events.Pop(1)
		if len(batch) == 1 {
			return batch[0]
		}
		select {
		case <-h.events.Ready():
		case <-deadline:
			h.t.Fatal("timed out waiting for event")
			return nil
		}
	}
}

func (h *coordinatorHarness) nextDirectoryChange() api.DirectoryChange {
	h.t.Helper()
	for {
		if dc, ok := h.next().(api.DirectoryChange); ok {
			return dc
		}
	}
}

// waitRootFinished consumes events until the root reports finished and
// returns every size update seen on the way.
func (h *coordinatorHarness) waitRootFinished() []api.SizeUpdate {
	h.t.Helper()
	var updates []api.SizeUpdate
	for {
		su, ok := h.next().(api.SizeUpdate)
		if !ok {
			continue
		}
		updates = append(updates, su)
		if len(su.Entry.Path) == 0 && su.Entry.Updating == api.StatusFinished {
			return updates
		}
	}
}

func TestCoordinatorWaitsForFirstNavigation(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, map[string]int{"a/file1": 100})

	h := startCoordinator(t, root)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateAwaitingNavigation, h.coord.State())
	assert.Equal(t, 0, h.events.Len())

	took, done := h.coord.WalkDuration()
	assert.Zero(t, took)
	assert.False(t, done)

	h.control.Push(Navigation{Path: []string{}})
	dc := h.nextDirectoryChange()
	assert.Equal(t, []api.Entry{api.DirectoryEntry([]string{"a"}, 0, api.StatusIdle)}, dc.Entries)
	assert.Equal(t, []api.Entry{api.DirectoryEntry([]string{}, 0, api.StatusIdle)}, dc.BreadcrumbEntries)
}

func TestCoordinatorScanScenario(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, map[string]int{
		"a/file1":   100,
		"a/b/file2": 50,
		"other/x/y": 1000,
	})

	h := startCoordinator(t, root)
	h.control.Push(Navigation{Path: []string{"a"}})

	dc := h.nextDirectoryChange()
	sortEntries(dc.Entries)
	assert.Equal(t, api.DirectoryEntry([]string{"a"}, 0, api.StatusIdle), dc.CurrentDirectory)
	assert.Equal(t, []api.Entry{
		api.DirectoryEntry([]string{"a", "b"}, 0, api.StatusIdle),
		api.FileEntry([]string{"a", "file1"}, 100),
	}, dc.Entries)
	assert.Equal(t, []api.Entry{
		api.DirectoryEntry([]string{}, 0, api.StatusIdle),
		api.DirectoryEntry([]string{"a"}, 0, api.StatusIdle),
	}, dc.BreadcrumbEntries)

	updates := h.waitRootFinished()

	var lastB api.Entry
	for _, su := range updates {
		path := su.Entry.Path
		// Only the root, a, and a's children are visible from a.
		assert.True(t, len(path) == 0 || path[0] == "a", "unexpected update for %v", path)
		assert.NotEqual(t, []string{"other", "x"}, path)
		if len(path) == 2 && path[1] == "b" {
			lastB = su.Entry
		}
	}
	assert.Equal(t, api.DirectoryEntry([]string{"a", "b"}, 50, api.StatusFinished), lastB)

	final := updates[len(updates)-1].Entry
	assert.Equal(t, uint64(1150), final.Size)

	require.Eventually(t, func() bool { return h.coord.State() == StateDraining }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(3), h.coord.FileCount())
	took, done := h.coord.WalkDuration()
	assert.True(t, done)
	assert.Positive(t, took)

	// Navigation keeps working after the walk, now with complete sizes.
	h.control.Push(Navigation{Path: []string{}})
	dc = h.nextDirectoryChange()
	sortEntries(dc.Entries)
	assert.Equal(t, api.DirectoryEntry([]string{}, 1150, api.StatusFinished), dc.CurrentDirectory)
	assert.Equal(t, []api.Entry{
		api.DirectoryEntry([]string{"a"}, 150, api.StatusFinished),
		api.DirectoryEntry([]string{"other"}, 1000, api.StatusFinished),
	}, dc.Entries)
}

func TestCoordinatorWalkDurationReadableDuringScan(t *testing.T) {
	root := t.TempDir()
	files := make(map[string]int)
	for i := range 200 {
		files[fmt.Sprintf("d%d/f%d", i%20, i)] = 1
	}
	makeTree(t, root, files)

	h := startCoordinator(t, root)
	h.control.Push(Navigation{Path: nil})

	// Polled while Run is still writing it.
	require.Eventually(t, func() bool {
		took, done := h.coord.WalkDuration()
		return done && took > 0
	}, 5*time.Second, time.Millisecond)

	took, _ := h.coord.WalkDuration()
	again, done := h.coord.WalkDuration()
	assert.True(t, done)
	assert.Equal(t, took, again)
	assert.Equal(t, int64(200), h.coord.FileCount())
}

func TestCoordinatorStopsWhenControlCloses(t *testing.T) {
	root := t.TempDir()
	h := startCoordinator(t, root)
	h.control.Push(Navigation{Path: nil})
	h.nextDirectoryChange()
	h.control.Close()

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop")
	}
	assert.Equal(t, StateStopped, h.coord.State())
}

func TestCoordinatorStopsOnCancel(t *testing.T) {
	h := startCoordinator(t, t.TempDir())
	h.cancel()

	select {
	case err := <-h.done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop")
	}
}

func TestSubscriptions(t *testing.T) {
	subs := subscriptions([]string{"a", "b"}, []api.Entry{
		api.DirectoryEntry([]string{"a", "b", "c"}, 0, api.StatusIdle),
		api.FileEntry([]string{"a", "b", "f"}, 1),
	})

	for _, p := range [][]string{{}, {"a"}, {"a", "b"}, {"a", "b", "c"}} {
		assert.Contains(t, subs, PathKey(p))
	}
	assert.NotContains(t, subs, PathKey([]string{"a", "b", "f"}))
	assert.Len(t, subs, 4)
}
