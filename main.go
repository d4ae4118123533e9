package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/riadafridishibly/dirsize/scanner"
	"github.com/riadafridishibly/dirsize/server"
)

func tempDir() string {
	if runtime.GOOS == "darwin" {
		return "/tmp"
	}
	return os.TempDir()
}

func main() {
	cfg := server.DefaultConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "address to listen on")
	flag.BoolVar(&cfg.KeepOpen, "keep-open", cfg.KeepOpen, "keep serving after the first client disconnects")
	flag.BoolVar(&cfg.NoBrowser, "no-browser", cfg.NoBrowser, "don't open the web client in a browser")
	flag.StringVar(&cfg.WebDir, "web", cfg.WebDir, "directory with the web client to serve at /")
	flag.DurationVar(&cfg.CoalesceWindow, "coalesce", cfg.CoalesceWindow, "minimum interval between size updates for one directory")
	flag.DurationVar(&cfg.DeleteNotifyAfter, "delete-notify", cfg.DeleteNotifyAfter, "tell the client about a delete once it takes this long")
	logStderr := flag.Bool("log-stderr", false, "log to stderr instead of a temp file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [directory]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	log.SetFlags(log.Lshortfile | log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("[DIRSIZE] ")
	if !*logStderr {
		logFile, err := os.CreateTemp(tempDir(), "dirsize-*.log")
		if err != nil {
			log.Fatalf("Error creating log file: %v", err)
		}
		defer logFile.Close()
		log.SetOutput(logFile)
		fmt.Println("Logfile is being written in:", logFile.Name())
	}

	var rootDir string
	if flag.NArg() > 0 {
		rootDir = flag.Arg(0)
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting current directory: %v\n", err)
			os.Exit(1)
		}
		rootDir = cwd
	}

	absPath, err := scanner.AbsPath(rootDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving path %s: %v\n", rootDir, err)
		os.Exit(1)
	}
	cfg.Root = absPath

	ln, err := server.Listen(cfg.Addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listening: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Scanning %s, open http://%s\n", absPath, ln.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.New(cfg).Serve(ctx, ln); err != nil {
		fmt.Fprintf(os.Stderr, "Error running server: %v\n", err)
		os.Exit(1)
	}
}
