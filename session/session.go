// Package session drives one client connection: it decodes control
// messages, runs the scan for the connection and writes events back.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/riadafridishibly/dirsize/api"
	"github.com/riadafridishibly/dirsize/queue"
	"github.com/riadafridishibly/dirsize/scanner"
)

// ErrClosed is returned by a Transport once the peer has gone away.
var ErrClosed = errors.New("connection closed")

var (
	errInvalidPath = errors.New("invalid path")
	errEnded       = errors.New("session ended")
)

// Transport carries text frames to and from the client.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type Config struct {
	Root              string
	CoalesceWindow    time.Duration
	DeleteNotifyAfter time.Duration
}

type Session struct {
	id        string
	cfg       Config
	transport Transport

	control  *queue.Queue[scanner.Navigation]
	events   *queue.Queue[api.EventMessage]
	outbound *queue.Queue[api.EventMessage]

	coordinator *scanner.Coordinator
	coalescer   *Coalescer

	// Only touched by the read loop.
	currentDir []string

	measure func(path string) (scanner.SizeResult, error)
	remove  func(path string) error
	reveal  func(path string) error
}

func New(cfg Config, transport Transport) *Session {
	s := &Session{
		id:        uuid.NewString()[:8],
		cfg:       cfg,
		transport: transport,
		control:   queue.New[scanner.Navigation](),
		events:    queue.New[api.EventMessage](),
		outbound:  queue.New[api.EventMessage](),
		measure:   scanner.DirectorySize,
		remove:    removePath,
		reveal:    revealInFileManager,
	}
	s.coordinator = scanner.NewCoordinator(cfg.Root, s.control, s.events)
	s.coalescer = NewCoalescer(cfg.CoalesceWindow, s.events, s.outbound)
	return s
}

func (s *Session) ID() string {
	return s.id
}

// Run serves the connection until the client goes away, a malformed
// message arrives or ctx is cancelled. The transport is closed on return.
func (s *Session) Run(ctx context.Context) error {
	log.Printf("[%s] Session started for %s", s.id, s.cfg.Root)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer s.events.Close()
		return ended(s.coordinator.Run(ctx))
	})
	g.Go(func() error {
		return ended(s.coalescer.Run(ctx))
	})
	g.Go(func() error {
		return ended(s.readLoop(ctx))
	})
	g.Go(func() error {
		return ended(s.writeLoop(ctx))
	})
	g.Go(func() error {
		// Unblocks a pending ReadMessage.
		<-ctx.Done()
		s.transport.Close()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, errEnded) || errors.Is(err, ErrClosed) {
		err = nil
	}
	took, _ := s.coordinator.WalkDuration()
	log.Printf("[%s] Session ended after %s files in %s (state %s)",
		s.id, humanize.Comma(s.coordinator.FileCount()), took.Round(time.Millisecond), s.coordinator.State())
	return err
}

// ended turns a clean return into an error so errgroup tears down the other
// loops.
func ended(err error) error {
	if err == nil {
		return errEnded
	}
	return err
}

func (s *Session) readLoop(ctx context.Context) error {
	defer s.control.Close()

	for {
		data, err := s.transport.ReadMessage()
		if err != nil {
			return err
		}

		msg, err := api.DecodeControlMessage(data)
		if err != nil {
			log.Printf("[%s] Error decoding control message %q: %v", s.id, data, err)
			return err
		}
		s.handle(ctx, msg)
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.outbound.Ready():
			events, open := s.outbound.Pop(64)
			for _, ev := range events {
				data, err := json.Marshal(ev)
				if err != nil {
					return fmt.Errorf("encoding %T: %w", ev, err)
				}
				if err := s.transport.WriteMessage(data); err != nil {
					return err
				}
			}
			if !open {
				return nil
			}
		}
	}
}

func (s *Session) handle(ctx context.Context, msg api.ControlMessage) {
	path := msg.TargetPath()
	if err := validatePath(path); err != nil {
		log.Printf("[%s] Ignoring %T: %v", s.id, msg, err)
		return
	}

	switch msg := msg.(type) {
	case api.ChangeDirectory:
		s.changeDirectory(msg.Path)
	case api.Delete:
		s.delete(ctx, msg.Path)
	case api.Reveal:
		s.revealPath(msg.Path)
	}
}

func (s *Session) changeDirectory(path []string) {
	s.currentDir = slices.Clone(path)
	s.control.Push(scanner.Navigation{Path: s.currentDir})
}

// refresh re-lists the current directory so the client sees the result of a
// delete.
func (s *Session) refresh() {
	s.changeDirectory(s.currentDir)
}

// delete blocks inbound processing until the removal is done. The client
// only hears about progress if the removal itself takes longer than
// DeleteNotifyAfter; sizing the path beforehand is not counted.
func (s *Session) delete(ctx context.Context, path []string) {
	if len(path) == 0 {
		log.Printf("[%s] Refusing to delete the scan root %s", s.id, s.cfg.Root)
		return
	}

	full := s.fullPath(path)
	log.Printf("[%s] Deleting %s", s.id, full)

	freed, err := s.measure(full)
	if err != nil {
		log.Printf("[%s] Error sizing %s: %v", s.id, full, err)
	}
	if ctx.Err() != nil {
		return
	}

	done := make(chan error, 1)
	go func() { done <- s.remove(full) }()

	timer := time.NewTimer(s.cfg.DeleteNotifyAfter)
	defer timer.Stop()

	select {
	case err = <-done:
	case <-timer.C:
		s.events.Push(api.Deleting{Path: path, Status: api.DeletingInProgress})
		select {
		case err = <-done:
		case <-ctx.Done():
			return
		}
	case <-ctx.Done():
		return
	}

	if err != nil {
		log.Printf("[%s] Error deleting %s: %v", s.id, full, err)
	} else {
		log.Printf("[%s] Deleted %s, freed %s in %s files",
			s.id, full, humanize.Bytes(freed.Size), humanize.Comma(freed.FilesScanned))
	}

	s.events.Push(api.Deleting{Path: path, Status: api.DeletingFinished})
	s.refresh()
}

func (s *Session) revealPath(path []string) {
	full := s.fullPath(path)
	log.Printf("[%s] Reveal %s", s.id, full)

	go func() {
		if err := s.reveal(full); err != nil {
			log.Printf("[%s] Couldn't reveal %s: %v", s.id, full, err)
		}
	}()
}

func (s *Session) fullPath(path []string) string {
	return filepath.Join(append([]string{s.cfg.Root}, path...)...)
}

// validatePath rejects segments that would escape the root or address
// something other than a single directory entry.
func validatePath(path []string) error {
	for _, seg := range path {
		if seg == "" || seg == "." || seg == ".." ||
			strings.ContainsRune(seg, '/') || strings.ContainsRune(seg, filepath.Separator) {
			return fmt.Errorf("%w: segment %q in %q", errInvalidPath, seg, path)
		}
	}
	return nil
}

func removePath(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return os.RemoveAll(path)
	}
	return os.Remove(path)
}
