package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sweeney/homer-callflow/internal/calls"
	"github.com/sweeney/homer-callflow/internal/capture"
	"github.com/sweeney/homer-callflow/internal/config"
	"github.com/sweeney/homer-callflow/internal/homer"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (HOMER_* environment variables also apply)")
	callID := flag.String("callid", "", "Call-ID to fetch")
	recordID := flag.Int64("id", 0, "Representative record id, if known")
	ts := flag.Int64("ts", 0, "Call timestamp in epoch ms (default now)")
	window := flag.Duration("window", time.Hour, "Half-width of the fetch window around -ts")
	outDir := flag.String("outdir", "testdata/captures", "Output directory for captures")
	gz := flag.Bool("gzip", false, "Write the capture gzip-compressed")
	sanitize := flag.String("sanitize", "", "Sanitize a capture file in-place (keeps .bak)")
	flag.Parse()

	if *sanitize != "" {
		if err := sanitizeFile(*sanitize); err != nil {
			fmt.Fprintf(os.Stderr, "sanitize error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("sanitized:", *sanitize)
		return
	}

	if *callID == "" {
		fmt.Fprintln(os.Stderr, "error: -callid is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := homer.New(homer.Options{
		URL:                cfg.Homer.URL,
		Username:           cfg.Homer.Username,
		Password:           cfg.Homer.Password,
		TransactionTimeout: cfg.Homer.TransactionTimeout,
		InsecureSkipVerify: cfg.Homer.InsecureSkipVerify,
	})

	if _, err := dump(ctx, client, *callID, *recordID, *ts, *window, *outDir, *gz); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// dump fetches one call's transaction and saves the response body verbatim.
// It returns the path written.
func dump(ctx context.Context, backend calls.Backend, callID string, recordID, ts int64, window time.Duration, outDir string, gz bool) (string, error) {
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	fmt.Printf("fetching %s...\n", callID)
	tx, latency, err := backend.Transaction(ctx, callID, recordID, ts, window.Milliseconds())
	if err != nil {
		return "", fmt.Errorf("fetching transaction: %w", err)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}

	name := strings.TrimPrefix(calls.ExportFilename(callID), "call-")
	name = time.Now().Format("20060102-150405") + "-" + name
	if gz {
		name += ".gz"
	}
	filename := filepath.Join(outDir, name)
	if err := capture.WriteFile(filename, tx.Raw); err != nil {
		return "", err
	}

	fmt.Printf("wrote %d messages (%d bytes, %s) to %s\n", len(tx.Messages), len(tx.Raw), latency.Round(time.Millisecond), filename)
	return filename, nil
}
