// Package server exposes the scanner to a browser over a websocket at /ws.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"

	"github.com/riadafridishibly/dirsize/scanner"
	"github.com/riadafridishibly/dirsize/session"
)

// Ports tried after the configured one is taken.
const maxPortRetries = 5

const (
	shutdownTimeout = 5 * time.Second
	browserDelay    = 100 * time.Millisecond
)

var listenTCP = net.Listen

type Server struct {
	cfg      Config
	upgrader websocket.Upgrader

	// Parent of every session context, cancelled on shutdown.
	sessionCtx     context.Context
	cancelSessions context.CancelFunc
	sessions       sync.WaitGroup

	firstDone     chan struct{}
	firstDoneOnce sync.Once

	openURL func(url string) error
}

func New(cfg Config) *Server {
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		firstDone: make(chan struct{}),
		openURL:   openBrowser,
	}
}

// Listen binds addr, moving on to the next few ports if it is taken.
func Listen(addr string) (net.Listener, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in %q: %w", addr, err)
	}

	retries := maxPortRetries
	if port == 0 {
		retries = 0
	}

	var lastErr error
	for i := 0; i <= retries; i++ {
		try := net.JoinHostPort(host, strconv.Itoa(port+i))
		ln, err := listenTCP("tcp", try)
		if err == nil {
			return ln, nil
		}
		log.Printf("Couldn't listen on %s: %v", try, err)
		lastErr = err
	}
	return nil, fmt.Errorf("no free port from %d to %d: %w", port, port+retries, lastErr)
}

// Serve handles connections on ln until ctx is cancelled or, without
// KeepOpen, the first session ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.sessionCtx, s.cancelSessions = context.WithCancel(ctx)
	defer s.cancelSessions()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	if s.cfg.WebDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.cfg.WebDir)))
	}

	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- httpServer.Serve(ln) }()

	if space, err := scanner.AvailableSpace(s.cfg.Root); err == nil {
		log.Printf("Serving %s (%s free) on http://%s", s.cfg.Root, humanize.Bytes(space), ln.Addr())
	} else {
		log.Printf("Serving %s on http://%s", s.cfg.Root, ln.Addr())
	}

	if !s.cfg.NoBrowser {
		url := "http://" + ln.Addr().String() + "/"
		timer := time.AfterFunc(browserDelay, func() {
			if err := s.openURL(url); err != nil {
				log.Printf("Couldn't open %s: %v", url, err)
			}
		})
		defer timer.Stop()
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		log.Println("Shutting down:", ctx.Err())
	case <-s.firstDone:
		log.Println("Client disconnected, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	s.cancelSessions()
	s.sessions.Wait()

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Error upgrading connection from %s: %v", r.RemoteAddr, err)
		return
	}

	s.sessions.Add(1)
	defer s.sessions.Done()

	sess := session.New(session.Config{
		Root:              s.cfg.Root,
		CoalesceWindow:    s.cfg.CoalesceWindow,
		DeleteNotifyAfter: s.cfg.DeleteNotifyAfter,
	}, newTransport(conn))
	log.Printf("Client %s connected as session %s", r.RemoteAddr, sess.ID())

	if err := sess.Run(s.sessionCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Session %s failed: %v", sess.ID(), err)
	}

	if !s.cfg.KeepOpen {
		s.firstDoneOnce.Do(func() { close(s.firstDone) })
	}
}
