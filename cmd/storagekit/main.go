// Package main is a small operational CLI for the storage core.
//
// Usage:
//
//	storagekit set <key> <value> [ttl]   — store a value (ttl like 30s, 5m)
//	storagekit get <key>                 — print a stored value
//	storagekit delete <key>              — remove a key
//	storagekit keys                      — list all keys
//	storagekit query [limit] [offset]    — page through records
//	storagekit stats                     — print instrumentation counters
//	storagekit clear                     — remove all records
//
// The backend is selected via STORAGE_ENGINE (memory|sqlite) and related
// STORAGE_* environment variables. Memory mode is only useful for smoke
// testing a single invocation; sqlite persists across runs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/unifiedcore/storagekit/storage"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "version" {
		fmt.Printf("storagekit v%s\n", version)
		return
	}
	if cmd == "help" || cmd == "--help" || cmd == "-h" {
		printUsage()
		return
	}

	if err := run(cmd, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd string, args []string) error {
	ctx := context.Background()

	cfg, err := storage.LoadConfig()
	if err != nil {
		return err
	}

	store, err := storage.Open[string](ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	switch cmd {
	case "set":
		if len(args) < 2 {
			return fmt.Errorf("usage: storagekit set <key> <value> [ttl]")
		}
		var opts []storage.SetOption
		if len(args) > 2 {
			ttl, err := time.ParseDuration(args[2])
			if err != nil {
				return fmt.Errorf("parse ttl: %w", err)
			}
			opts = append(opts, storage.WithTTL(ttl))
		}
		rec, err := store.Set(ctx, args[0], args[1], opts...)
		if err != nil {
			return err
		}
		fmt.Printf("stored %s (version %d, %d bytes)\n", rec.Key, rec.Metadata.Version, rec.Metadata.Size)
		return nil

	case "get":
		if len(args) < 1 {
			return fmt.Errorf("usage: storagekit get <key>")
		}
		rec, err := store.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("key %q not found", args[0])
		}
		fmt.Println(rec.Value)
		return nil

	case "delete":
		if len(args) < 1 {
			return fmt.Errorf("usage: storagekit delete <key>")
		}
		removed, err := store.Delete(ctx, args[0])
		if err != nil {
			return err
		}
		if !removed {
			fmt.Printf("key %q not found\n", args[0])
			return nil
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil

	case "keys":
		keys, err := store.Keys(ctx)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil

	case "query":
		opts := storage.QueryOptions[string]{}
		if len(args) > 0 {
			fmt.Sscanf(args[0], "%d", &opts.Limit)
		}
		if len(args) > 1 {
			fmt.Sscanf(args[1], "%d", &opts.Offset)
		}
		res, err := store.Query(ctx, opts)
		if err != nil {
			return err
		}
		for _, rec := range res.Records {
			fmt.Printf("%s\t%s\n", rec.Key, rec.Value)
		}
		fmt.Printf("total=%d returned=%d in %s\n", res.Total, len(res.Records), res.QueryTime)
		return nil

	case "stats":
		out, err := json.MarshalIndent(store.Stats(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil

	case "clear":
		if err := store.Clear(ctx); err != nil {
			return err
		}
		fmt.Println("cleared")
		return nil

	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `storagekit — key-value storage core CLI

Commands:
  set <key> <value> [ttl]   store a value, optionally with a TTL (e.g. 30s)
  get <key>                 print a stored value
  delete <key>              remove a key
  keys                      list all keys
  query [limit] [offset]    page through records
  stats                     print instrumentation counters and latencies
  clear                     remove all records
  version                   print version

Environment:
  STORAGE_ENGINE            memory (default) or sqlite
  STORAGE_PATH              sqlite database path (default storage.db)
  STORAGE_SWEEP_INTERVAL    optional expiry sweep interval (memory engine)`)
}
