// Command storectl is the operator tool for a taskgrid artifact store: it
// ingests and inspects content, extends lifetimes, sweeps expired entries
// and moves whole stores between hosts. The store library itself carries no
// CLI; this is the maintenance surface around it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	artifactstore "github.com/taskgrid/artifact-store"
	"github.com/taskgrid/artifact-store/reaper"
	"github.com/taskgrid/artifact-store/snapshot"
	"github.com/taskgrid/artifact-store/store"
	"github.com/taskgrid/artifact-store/telemetry"
)

// Globals are flags shared by every subcommand.
type Globals struct {
	Base      string `help:"Store base directory." default:"./artifact-store" type:"path"`
	LogLevel  string `help:"Log level." enum:"debug,info,warn,error" default:"info"`
	LogFormat string `help:"Log format." enum:"text,json" default:"text"`
}

type cli struct {
	Globals

	Put     PutCmd     `cmd:"" help:"Hash a file and store its content, printing the key."`
	Get     GetCmd     `cmd:"" help:"Print the on-disk path for a key, extending its lifetime."`
	Stat    StatCmd    `cmd:"" help:"Show entry counts and disk usage."`
	Persist PersistCmd `cmd:"" help:"Extend the lifetime of a key."`
	Verify  VerifyCmd  `cmd:"" help:"Re-hash every entry and evict mismatches."`
	Sweep   SweepCmd   `cmd:"" help:"Reap expired entries, once or on an interval."`
	Export  ExportCmd  `cmd:"" help:"Export the store as a zstd-compressed tar archive."`
	Import  ImportCmd  `cmd:"" help:"Import a store archive into the base directory."`
}

func main() {
	var app cli
	kctx := kong.Parse(&app,
		kong.Name("storectl"),
		kong.Description("Operator tool for a taskgrid artifact store."),
		kong.UsageOnError(),
	)

	logger, err := newLogger(app.Globals)
	kctx.FatalIfErrorf(err)

	kctx.FatalIfErrorf(kctx.Run(&app.Globals, logger))
}

func newLogger(g Globals) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level: %s", g.LogLevel)
	}

	var handler slog.Handler
	switch g.LogFormat {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: level})
	}
	return slog.New(handler), nil
}

func openStore(g *Globals, logger *slog.Logger) (*store.FileStore, error) {
	return store.Open(g.Base, store.WithLogger(logger))
}

// PutCmd hashes and stores a local file.
type PutCmd struct {
	File string `arg:"" help:"File to store." type:"existingfile"`
}

func (c *PutCmd) Run(g *Globals, logger *slog.Logger) error {
	s, err := openStore(g, logger)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	key, err := s.StoreFile(context.Background(), c.File)
	if err != nil {
		return err
	}
	fmt.Println(key.String())
	return nil
}

// GetCmd resolves a key to its backing path.
type GetCmd struct {
	Key string `arg:"" help:"Hex-encoded content key."`
}

func (c *GetCmd) Run(g *Globals, logger *slog.Logger) error {
	key, err := artifactstore.ParseKey(c.Key)
	if err != nil {
		return err
	}

	s, err := openStore(g, logger)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	path, err := s.Get(context.Background(), key)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

// StatCmd prints store statistics.
type StatCmd struct{}

func (c *StatCmd) Run(g *Globals, logger *slog.Logger) error {
	s, err := openStore(g, logger)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	var totalBytes int64
	for _, key := range s.Keys() {
		if fi, err := os.Stat(s.Path(key)); err == nil {
			totalBytes += fi.Size()
		}
	}

	fmt.Printf("base:     %s\n", s.Base())
	fmt.Printf("entries:  %d\n", s.Len())
	fmt.Printf("expired:  %d\n", len(s.Expired(time.Now())))
	fmt.Printf("bytes:    %d\n", totalBytes)
	return nil
}

// PersistCmd extends a key's lifetime.
type PersistCmd struct {
	Key string `arg:"" help:"Hex-encoded content key."`
}

func (c *PersistCmd) Run(g *Globals, logger *slog.Logger) error {
	key, err := artifactstore.ParseKey(c.Key)
	if err != nil {
		return err
	}

	s, err := openStore(g, logger)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	return s.Persist(context.Background(), key)
}

// VerifyCmd forces a full re-hash of every entry.
type VerifyCmd struct{}

func (c *VerifyCmd) Run(g *Globals, logger *slog.Logger) error {
	s, err := openStore(g, logger)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	evicted, err := s.Verify(context.Background())
	if err != nil {
		return err
	}
	for _, key := range evicted {
		fmt.Printf("evicted %s\n", key.String())
	}
	fmt.Printf("verified %d entries, evicted %d\n", s.Len(), len(evicted))
	return nil
}

// SweepCmd reaps expired entries.
type SweepCmd struct {
	Interval    time.Duration `help:"Sweep repeatedly at this interval; 0 sweeps once and exits." default:"0"`
	MetricsAddr string        `help:"Serve Prometheus metrics at this address while sweeping."`
}

func (c *SweepCmd) Run(g *Globals, logger *slog.Logger) error {
	s, err := openStore(g, logger)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if c.MetricsAddr != "" {
		shutdown, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
			ServiceName:      "storectl",
			EnablePrometheus: true,
		})
		if err != nil {
			return err
		}
		defer func() { _ = shutdown(context.Background()) }()

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", telemetry.Handler())
			if err := http.ListenAndServe(c.MetricsAddr, mux); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	mgr := reaper.NewManager(s, reaper.Config{Interval: c.Interval, Logger: logger})

	if c.Interval == 0 {
		result := mgr.RunOnce(ctx)
		fmt.Printf("reaped %d entries, freed %d bytes\n", result.Reaped, result.BytesFreed)
		return nil
	}

	mgr.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, stopping sweeper", "signal", sig)

	mgr.Stop()
	return nil
}

// ExportCmd archives the store.
type ExportCmd struct {
	Output string `arg:"" help:"Destination archive path (.tar.zst)." type:"path"`
}

func (c *ExportCmd) Run(g *Globals, logger *slog.Logger) error {
	// Hold the store lock while archiving so no other instance mutates the
	// directory mid-export.
	s, err := openStore(g, logger)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	f, err := os.Create(c.Output)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := snapshot.Write(f, s.Base()); err != nil {
		return err
	}
	logger.Info("store exported", "archive", c.Output, "entries", s.Len())
	return nil
}

// ImportCmd restores a store archive.
type ImportCmd struct {
	Input string `arg:"" help:"Archive produced by export." type:"existingfile"`
}

func (c *ImportCmd) Run(g *Globals, logger *slog.Logger) error {
	f, err := os.Open(c.Input)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := snapshot.Extract(f, g.Base); err != nil {
		return err
	}

	// Opening reconciles the imported mirror against the extracted files.
	s, err := openStore(g, logger)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	logger.Info("store imported", "base", s.Base(), "entries", s.Len())
	return nil
}
