// Command slab-inspect is a small CLI for poking at a running slabshard
// process: it fetches the JSON snapshot a service exposes at
// /debug/slabshard/snapshot and prints it, either once, on a watch
// interval, or as a pprof profile download.
//
// The target service is expected to expose:
//   - GET /debug/slabshard/snapshot    – JSON payload with shard/pool stats.
//   - GET /debug/pprof/{heap,goroutine} – standard pprof handlers.
//
// The snapshot is decoded into map[string]any rather than a shared struct,
// so the CLI and the library it talks to can version independently.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

var version = "dev"

type options struct {
	target           string
	json             bool
	watch            bool
	interval         time.Duration
	heapProfile      string
	goroutineProfile string
	version          bool
}

func parseFlags() *options {
	opts := &options{}
	flag.StringVar(&opts.target, "target", "http://127.0.0.1:6060", "base URL of the target process")
	flag.BoolVar(&opts.json, "json", false, "print the raw snapshot as JSON instead of a summary")
	flag.BoolVar(&opts.watch, "watch", false, "poll the snapshot endpoint on -interval until interrupted")
	flag.DurationVar(&opts.interval, "interval", 2*time.Second, "poll interval in -watch mode")
	flag.StringVar(&opts.heapProfile, "heap-profile", "", "download a heap profile to this path and exit")
	flag.StringVar(&opts.goroutineProfile, "goroutine-profile", "", "download a goroutine profile to this path and exit")
	flag.BoolVar(&opts.version, "version", false, "print the CLI version and exit")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	if opts.version {
		fmt.Println(version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if opts.heapProfile != "" {
		if err := downloadProfile(ctx, opts.target, "heap", opts.heapProfile); err != nil {
			fatal(err)
		}
		return
	}
	if opts.goroutineProfile != "" {
		if err := downloadProfile(ctx, opts.target, "goroutine", opts.goroutineProfile); err != nil {
			fatal(err)
		}
		return
	}

	if opts.watch {
		if err := watch(ctx, opts); err != nil && ctx.Err() == nil {
			fatal(err)
		}
		return
	}

	if err := dumpOnce(ctx, opts); err != nil {
		fatal(err)
	}
}

// watch polls the snapshot endpoint on a ticker, using an errgroup to tie
// the ticking goroutine's lifetime to context cancellation (signal-driven
// shutdown) instead of a bare select/for loop.
func watch(ctx context.Context, opts *options) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			if err := dumpOnce(ctx, opts); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
	return g.Wait()
}

func dumpOnce(ctx context.Context, opts *options) error {
	snap, err := fetchSnapshot(ctx, opts.target)
	if err != nil {
		return err
	}
	if opts.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return prettyPrint(snap)
}

func fetchSnapshot(ctx context.Context, base string) (map[string]any, error) {
	url := base + "/debug/slabshard/snapshot"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", res.Status)
	}
	var data map[string]any
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

// prettyPrint assumes the common top-level fields a Slab/Pool debug
// handler exposes (see pkg/slab and pkg/pool's Len/Capacity); an unknown
// shape still prints, with <nil> for each missing field.
func prettyPrint(data map[string]any) error {
	fmt.Printf("Live values:   %v\n", data["live_values"])
	fmt.Printf("Capacity:      %v\n", data["capacity"])
	fmt.Printf("Participants:  %v\n", data["participants_joined"])
	fmt.Printf("Shards in use: %v\n", data["shards_installed"])
	return nil
}

func downloadProfile(ctx context.Context, base, name, path string) error {
	url := fmt.Sprintf("%s/debug/pprof/%s", base, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", res.Status)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, res.Body); err != nil {
		return err
	}
	fmt.Printf("%s profile saved to %s\n", name, path)
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "slab-inspect:", err)
	os.Exit(1)
}
