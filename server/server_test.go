package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riadafridishibly/dirsize/api"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "file1"), make([]byte, 100), 0o644))

	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.Root = root
	cfg.NoBrowser = true
	return cfg
}

func startServer(t *testing.T, cfg Config) (addr string, done <-chan error, cancel context.CancelFunc) {
	t.Helper()
	return serve(t, New(cfg))
}

func serve(t *testing.T, srv *Server) (addr string, done <-chan error, cancel context.CancelFunc) {
	t.Helper()
	ln, err := Listen(srv.cfg.Addr)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx, ln) }()
	t.Cleanup(cancel)
	return ln.Addr().String(), errc, cancel
}

func dial(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendControl(t *testing.T, conn *websocket.Conn, msg api.ControlMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readDirectoryChange(t *testing.T, conn *websocket.Conn) api.DirectoryChange {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.TextMessage, kind)

		ev, err := api.DecodeEventMessage(data)
		require.NoError(t, err)
		if dc, ok := ev.(api.DirectoryChange); ok {
			return dc
		}
	}
}

func closeClient(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, msg))
}

func waitServe(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerNavigation(t *testing.T) {
	cfg := testConfig(t)
	cfg.KeepOpen = true
	addr, done, cancel := startServer(t, cfg)

	conn := dial(t, addr)
	sendControl(t, conn, api.ChangeDirectory{Path: []string{"a"}})

	dc := readDirectoryChange(t, conn)
	assert.Equal(t, []string{"a"}, dc.CurrentDirectory.Path)
	assert.ElementsMatch(t, []api.Entry{
		api.DirectoryEntry([]string{"a", "b"}, 0, api.StatusIdle),
		api.FileEntry([]string{"a", "file1"}, 100),
	}, dc.Entries)

	closeClient(t, conn)

	// A second client is still served.
	conn2 := dial(t, addr)
	sendControl(t, conn2, api.ChangeDirectory{Path: []string{}})
	dc = readDirectoryChange(t, conn2)
	assert.Empty(t, dc.CurrentDirectory.Path)

	cancel()
	waitServe(t, done)
}

func TestServerStopsAfterFirstSession(t *testing.T) {
	cfg := testConfig(t)
	addr, done, _ := startServer(t, cfg)

	conn := dial(t, addr)
	sendControl(t, conn, api.ChangeDirectory{Path: []string{}})
	readDirectoryChange(t, conn)
	closeClient(t, conn)

	waitServe(t, done)
}

func TestServerMalformedMessageClosesConnection(t *testing.T) {
	cfg := testConfig(t)
	cfg.KeepOpen = true
	addr, _, _ := startServer(t, cfg)

	conn := dial(t, addr)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"nope"}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			return
		}
	}
}

func TestServerServesWebDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.KeepOpen = true
	cfg.WebDir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cfg.WebDir, "index.html"), []byte("<h1>dirsize</h1>"), 0o644))
	addr, _, _ := startServer(t, cfg)

	resp, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<h1>dirsize</h1>", string(body))
}

func TestListenMovesToNextPort(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	takenPort := taken.Addr().(*net.TCPAddr).Port
	ln, err := Listen(taken.Addr().String())
	require.NoError(t, err)
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	assert.Greater(t, port, takenPort)
	assert.LessOrEqual(t, port, takenPort+maxPortRetries)
}

func TestListenTriesFiveMorePorts(t *testing.T) {
	var tried []string
	listenTCP = func(network, addr string) (net.Listener, error) {
		tried = append(tried, addr)
		if addr == "127.0.0.1:9005" {
			return net.Listen(network, "127.0.0.1:0")
		}
		return nil, errors.New("address already in use")
	}
	t.Cleanup(func() { listenTCP = net.Listen })

	ln, err := Listen("127.0.0.1:9000")
	require.NoError(t, err)
	ln.Close()
	assert.Equal(t, []string{
		"127.0.0.1:9000", "127.0.0.1:9001", "127.0.0.1:9002",
		"127.0.0.1:9003", "127.0.0.1:9004", "127.0.0.1:9005",
	}, tried)

	tried = nil
	_, err = Listen("127.0.0.1:9001")
	assert.Error(t, err)
	assert.Len(t, tried, 6)
	assert.Equal(t, "127.0.0.1:9006", tried[5])
}

func TestServerOpensBrowser(t *testing.T) {
	cfg := testConfig(t)
	cfg.KeepOpen = true
	cfg.NoBrowser = false

	opened := make(chan string, 1)
	srv := New(cfg)
	srv.openURL = func(url string) error {
		opened <- url
		return nil
	}
	addr, _, _ := serve(t, srv)

	select {
	case url := <-opened:
		assert.Equal(t, "http://"+addr+"/", url)
	case <-time.After(5 * time.Second):
		t.Fatal("browser was not opened")
	}
}

func TestServerNoBrowser(t *testing.T) {
	cfg := testConfig(t)
	cfg.KeepOpen = true

	opened := make(chan string, 1)
	srv := New(cfg)
	srv.openURL = func(url string) error {
		opened <- url
		return nil
	}
	serve(t, srv)

	select {
	case url := <-opened:
		t.Fatalf("opened %s with NoBrowser set", url)
	case <-time.After(3 * browserDelay):
	}
}

func TestListenInvalidAddress(t *testing.T) {
	_, err := Listen("localhost")
	assert.Error(t, err)

	_, err = Listen("127.0.0.1:http")
	assert.Error(t, err)
}
