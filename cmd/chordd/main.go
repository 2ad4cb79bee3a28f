// Command chordd owns the key injector and dispatches chords on request from
// chordctl and global hotkeys. Monitor clients only observe.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"chordkit/internal/config"
	"chordkit/internal/daemon"
	"chordkit/internal/dispatch"
	"chordkit/internal/hotkeys"
	"chordkit/internal/injector"
	"chordkit/internal/ipc"
	"chordkit/internal/journal"
	"chordkit/internal/logtee"
	"chordkit/internal/monitor"
	"chordkit/internal/singleinstance"
	"chordkit/internal/watcher"
)

type options struct {
	configPath string
	logLevel   slog.Level
	dryRun     bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("chordd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file (default: per-user config.yaml)")
	level := fs.String("log-level", "info", "log level: debug, info, warn or error")
	dryRun := fs.Bool("dry-run", false, "log key transitions instead of injecting them")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	lvl, err := logtee.ParseLevel(*level)
	if err != nil {
		return options{}, err
	}
	return options{configPath: *configPath, logLevel: lvl, dryRun: *dryRun}, nil
}

// loadConfig reads an explicit path as-is and creates the default file when
// none was given.
func loadConfig(path string) (string, config.Config, error) {
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", config.Config{}, err
		}
		cfg, err := config.Load(abs)
		return abs, cfg, err
	}
	path = config.DefaultPath()
	for _, message := range config.ConsumeDefaultPathWarnings() {
		slog.Warn("[WARN-CONFIG] " + message)
	}
	cfg, err := config.EnsureFile(path)
	return path, cfg, err
}

// triggerSpecs returns the hotkey specs to register. The release hotkey, if
// any, is last.
func triggerSpecs(cfg config.Config) []string {
	specs := make([]string, 0, len(cfg.Triggers)+1)
	for _, t := range cfg.Triggers {
		specs = append(specs, t.Hotkey)
	}
	if cfg.ReleaseHotkey != "" {
		specs = append(specs, cfg.ReleaseHotkey)
	}
	return specs
}

func run(args []string, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "chordd: %v\n", err)
		return 2
	}

	base := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: opts.logLevel})
	slog.SetDefault(slog.New(base))

	lock, err := singleinstance.TryLock(singleinstance.DefaultName())
	if errors.Is(err, singleinstance.ErrAlreadyRunning) {
		slog.Error("[daemon] another chordd is already running")
		return 1
	}
	if err != nil {
		slog.Warn("[daemon] single-instance lock failed, proceeding without it", "error", err)
	}
	if lock != nil {
		defer func() {
			if releaseErr := lock.Release(); releaseErr != nil {
				slog.Warn("[daemon] single-instance lock release failed", "error", releaseErr)
			}
		}()
	}

	configPath, cfg, err := loadConfig(opts.configPath)
	if err != nil {
		slog.Error("[WARN-CONFIG] invalid config", "path", configPath, "error", err)
		return 1
	}
	reg, err := config.BuildRegistry(cfg)
	if err != nil {
		slog.Error("[WARN-CONFIG] invalid bindings", "path", configPath, "error", err)
		return 1
	}
	if opts.dryRun {
		cfg.Injector.Kind = config.InjectorDryRun
	}

	inj, injCloser, err := injector.New(cfg.Injector)
	if err != nil {
		slog.Error("[injector] open failed", "kind", cfg.Injector.Kind, "error", err)
		return 1
	}
	defer func() {
		if closeErr := injCloser.Close(); closeErr != nil {
			slog.Warn("[injector] close failed", "error", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svcOpts := daemon.Options{
		Hold:         dispatch.FixedHold(cfg.Hold()),
		HoldMS:       cfg.HoldMS,
		InjectorKind: cfg.Injector.Kind,
		ConfigPath:   configPath,
	}

	var hub *monitor.Hub
	if cfg.Monitor.Enabled {
		hub = monitor.NewHub(monitor.Options{Addr: "127.0.0.1:" + strconv.Itoa(cfg.Monitor.Port)})
		if err := hub.Start(ctx); err != nil {
			slog.Error("[monitor] start failed", "error", err)
			return 1
		}
		defer func() {
			if stopErr := hub.Stop(); stopErr != nil {
				slog.Warn("[monitor] stop failed", "error", stopErr)
			}
		}()
		svcOpts.Monitor = hub
		svcOpts.MonitorURL = hub.URL()
		slog.Info("[monitor] feed listening", "url", hub.URL())
	}

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			slog.Error("[journal] open failed", "path", cfg.Journal.Path, "error", err)
			return 1
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				slog.Warn("[journal] close failed", "error", closeErr)
			}
		}()
		w := journal.NewWriter(j, 0)
		w.Start(ctx)
		defer func() {
			if closeErr := w.Close(); closeErr != nil {
				slog.Warn("[journal] writer close failed", "error", closeErr)
			}
		}()
		svcOpts.Journal = w
		svcOpts.JournalPath = j.Path()
	}

	svcOpts.Endpoint = cfg.Endpoint
	if svcOpts.Endpoint == "" {
		svcOpts.Endpoint = ipc.DefaultEndpoint()
	}

	svc, err := daemon.New(reg, inj, svcOpts)
	if err != nil {
		slog.Error("[daemon] init failed", "error", err)
		return 1
	}
	defer func() {
		if closeErr := svc.Close(); closeErr != nil {
			slog.Error("[daemon] keys left held at shutdown", "error", closeErr)
		}
	}()

	if hub != nil {
		slog.SetDefault(slog.New(logtee.New(base, slog.LevelWarn, svc.LogEntry)))
		defer slog.SetDefault(slog.New(base))
	}

	server := ipc.NewServer(svcOpts.Endpoint, svc)
	if err := server.Start(); err != nil {
		slog.Error("[ipc] start failed", "endpoint", server.Endpoint(), "error", err)
		return 1
	}
	defer func() {
		if stopErr := server.Stop(); stopErr != nil {
			slog.Warn("[ipc] stop failed", "error", stopErr)
		}
	}()

	w, err := watcher.New(configPath, watcher.DefaultDebounce, svc.ConfigChanged)
	if err != nil {
		slog.Warn("[watcher] config watch disabled", "path", configPath, "error", err)
	} else {
		w.Start(ctx)
		defer func() {
			if closeErr := w.Close(); closeErr != nil {
				slog.Warn("[watcher] close failed", "error", closeErr)
			}
		}()
	}

	var triggers sync.WaitGroup
	defer triggers.Wait()
	if specs := triggerSpecs(cfg); len(specs) > 0 {
		hk := hotkeys.NewManager()
		onTrigger := func(index int) {
			triggers.Go(func() { handleTrigger(ctx, svc, cfg, index) })
		}
		if err := hk.Start(specs, onTrigger); err != nil {
			slog.Warn("[hotkey] hotkeys disabled", "error", err)
		} else {
			defer func() {
				if stopErr := hk.Stop(); stopErr != nil {
					slog.Warn("[hotkey] stop failed", "error", stopErr)
				}
			}()
		}
	}

	slog.Info("[daemon] chordd ready",
		"endpoint", server.Endpoint(),
		"config", configPath,
		"injector", cfg.Injector.Kind,
		"bindings", reg.Len(),
	)
	<-ctx.Done()
	slog.Info("[daemon] shutting down")
	return 0
}

// handleTrigger fires the action bound to trigger index, or releases every
// held key for the release hotkey.
func handleTrigger(ctx context.Context, svc *daemon.Service, cfg config.Config, index int) {
	if index < len(cfg.Triggers) {
		t := cfg.Triggers[index]
		if err := svc.Fire(ctx, "hotkey:"+t.Hotkey, t.Action); err != nil {
			slog.Warn("[hotkey] trigger failed", "hotkey", t.Hotkey, "action", t.Action, "error", err)
		}
		return
	}
	if err := svc.ReleaseAll(ctx); err != nil {
		slog.Warn("[hotkey] release-all failed", "error", err)
	}
}
