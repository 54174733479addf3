package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/MimeLyc/jobtrack/internal/config"
	"github.com/MimeLyc/jobtrack/internal/persistence"
	"github.com/MimeLyc/jobtrack/internal/tracker"
	"github.com/MimeLyc/jobtrack/pkg/log"
)

const usage = `usage: jobtrack <command> [flags] [args]

commands:
  add      --company C --title T [--location L] [--url U] [--salary S] [--board B] [--info k=v ...]
  status   <index> <found|reviewed|applied> [--note text]
  note     <index> <text...>
  info     <index> <k=v ...>
  get      <index>
  list     [--status S] [--company substr]
  search   <query>
  stats
  check    --company C --title T [--url U]
  ingest   [files...]          ingest the given files, or the whole inbox
  watch                        ingest the inbox on INGEST_CRON until interrupted
  apply    [--reviewed] [index...]
  convert  --to json|sqlite --dest path
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(stderr, usage)
		if len(args) == 0 {
			return 2
		}
		return 0
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	cfg, err := config.NewFromEnv()
	if err != nil {
		fmt.Fprintf(stderr, "load configuration: %v\n", err)
		return 1
	}

	closeLog, err := setupLogging(cfg.Log, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "set up logging: %v\n", err)
		return 1
	}
	defer closeLog()

	a, err := newApp(ctx, cfg, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "open store: %v\n", err)
		return 1
	}
	defer a.close()

	if err := cmd(ctx, a, args[1:]); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", args[0], err)
		if errors.Is(err, errUsage) {
			fmt.Fprint(stderr, usage)
			return 2
		}
		return 1
	}
	return 0
}

// setupLogging keeps stdout free for command output: entries go to stderr
// unless LOG_FILE is set.
func setupLogging(cfg config.LogConfig, stderr io.Writer) (func(), error) {
	level := log.ParseLevel(cfg.Level)
	if cfg.File == "" {
		log.SetLogger(log.NewLoggerTo(stderr, level))
		return func() {}, nil
	}
	fl, err := log.NewFileLogger(cfg.File, level)
	if err != nil {
		return nil, err
	}
	log.SetLogger(fl.Logger)
	return func() { _ = fl.Close() }, nil
}

// app is the composition root shared by all commands.
type app struct {
	cfg    *config.Config
	store  *tracker.Store
	out    io.Writer
	closer func() error
}

func newApp(ctx context.Context, cfg *config.Config, out io.Writer) (*app, error) {
	backend, closer, err := openBackend(cfg.Store.Backend, cfg.Store)
	if err != nil {
		return nil, err
	}

	store := tracker.NewStore(backend)
	res := store.Init(ctx)
	if res.ReadErr != nil {
		log.Warn("Job records could not be read and the store started empty: %v", res.ReadErr)
	}
	if res.MigrateErr != nil {
		log.Warn("Legacy job records were loaded but not rewritten: %v", res.MigrateErr)
	}

	return &app{cfg: cfg, store: store, out: out, closer: closer}, nil
}

func openBackend(kind config.Backend, cfg config.StoreConfig) (tracker.Backend, func() error, error) {
	switch kind {
	case config.BackendSQLite:
		db, err := persistence.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	case config.BackendJSON:
		f, err := persistence.NewJSONFile(cfg.JobsFile)
		if err != nil {
			return nil, nil, err
		}
		return f, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", kind)
	}
}

func (a *app) close() {
	if a.closer != nil {
		if err := a.closer(); err != nil {
			log.Error("Failed to close store backend: %v", err)
		}
	}
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
