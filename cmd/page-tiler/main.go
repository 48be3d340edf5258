package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ironsheep/page-tiler/internal/config"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func usage() {
	fmt.Println("page-tiler - tiled page rendering for the manga reader")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  page-tiler worker              Serve decode requests over stdin/stdout")
	fmt.Println("  page-tiler render [flags]      Tile a page file and write the result as PNG")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --version, -v    Print version information")
	fmt.Println("  --help, -h       Print this help message")
	fmt.Println()
	fmt.Println("Run 'page-tiler render -h' for render flags.")
	fmt.Println()
	fmt.Println("Environment variables:")
	fmt.Println("  PAGE_TILER_LOG_LEVEL=debug            Enable debug logging")
	fmt.Println("  PAGE_TILER_TILE_SIZE=512              Tile edge in source pixels")
	fmt.Println("  PAGE_TILER_LOOK_AHEAD=256             Display pixels prefetched around the viewport")
	fmt.Println("  PAGE_TILER_RETENTION=1024             Display pixels kept around the viewport")
	fmt.Println("  PAGE_TILER_MAX_CONCURRENT=4           Tile requests in flight per page")
	fmt.Println("  PAGE_TILER_PAGE_CACHE=4               Processed pages kept in memory")
	fmt.Println("  PAGE_TILER_INIT_TIMEOUT=10s           Decode worker startup deadline")
	fmt.Println("  PAGE_TILER_COMPRESS_THRESHOLD=65536   Payload bytes above which frames are compressed")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "--version", "-v", "version":
		fmt.Printf("page-tiler %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		return
	case "--help", "-h", "help":
		usage()
		return
	}

	// Logs go to stderr; the worker's stdout carries transport frames
	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.Debug {
		log.Printf("page-tiler v%s (built %s, commit %s)", Version, BuildTime, GitCommit)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "worker":
		err = runWorker(ctx, cfg)
	case "render":
		err = runRender(ctx, cfg, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		stop()
		log.Fatalf("%s failed: %v", os.Args[1], err)
	}
}
