package scanner

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"slices"
)

type DevIno struct {
	Dev uint64
	Ino uint64
}

type Phase int

const (
	PhaseStarted Phase = iota
	PhaseFinished
)

func (p Phase) String() string {
	if p == PhaseStarted {
		return "started"
	}
	return "finished"
}

// Event is produced by Walk: either a DirEvent or a FileObservation.
type Event interface {
	isEvent()
}

// DirEvent brackets everything below Path. The root is the empty path.
type DirEvent struct {
	Path  []string
	Phase Phase
}

// FileObservation is one regular file and its apparent size.
type FileObservation struct {
	Path []string
	Size uint64
}

func (DirEvent) isEvent()        {}
func (FileObservation) isEvent() {}

// Walk visits root depth first. Each directory yields a Started event
// before anything below it and a Finished event after all of it; entries
// that cannot be read are skipped without breaking that bracketing.
//
// Symlinks are not followed. Cancelling ctx stops reading new entries, but
// directories already started are still finished.
func Walk(ctx context.Context, root string) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		w := &walker{
			ctx:   ctx,
			root:  root,
			yield: yield,
			open:  make(map[DevIno]struct{}),
		}
		w.walkDir(nil, root)
	}
}

type walker struct {
	ctx   context.Context
	root  string
	yield func(Event) bool

	// Directories on the current descent, to break bind-mount loops.
	open map[DevIno]struct{}
}

// walkDir reports false once the consumer stopped iterating.
func (w *walker) walkDir(rel []string, abs string) bool {
	if !w.yield(DirEvent{Path: rel, Phase: PhaseStarted}) {
		return false
	}

	if id, ok := statID(abs); ok {
		if _, looping := w.open[id]; looping {
			return w.yield(DirEvent{Path: rel, Phase: PhaseFinished})
		}
		w.open[id] = struct{}{}
		defer delete(w.open, id)
	}

	// ReadDir hands back whatever it managed to read alongside the error.
	entries, _ := os.ReadDir(abs)
	for _, entry := range entries {
		if w.ctx.Err() != nil {
			break
		}

		child := append(slices.Clip(rel), entry.Name())
		childAbs := filepath.Join(abs, entry.Name())

		switch {
		case entry.IsDir():
			if !w.walkDir(child, childAbs) {
				return false
			}
		case entry.Type().IsRegular():
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if !w.yield(FileObservation{Path: child, Size: uint64(info.Size())}) {
				return false
			}
		}
	}

	return w.yield(DirEvent{Path: rel, Phase: PhaseFinished})
}
