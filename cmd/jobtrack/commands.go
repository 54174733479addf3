package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/jobtrack/internal/apply"
	"github.com/MimeLyc/jobtrack/internal/config"
	"github.com/MimeLyc/jobtrack/internal/ingest"
	"github.com/MimeLyc/jobtrack/internal/tracker"
	"github.com/MimeLyc/jobtrack/pkg/log"
)

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"add":     cmdAdd,
	"status":  cmdStatus,
	"note":    cmdNote,
	"info":    cmdInfo,
	"get":     cmdGet,
	"list":    cmdList,
	"search":  cmdSearch,
	"stats":   cmdStats,
	"check":   cmdCheck,
	"ingest":  cmdIngest,
	"watch":   cmdWatch,
	"apply":   cmdApply,
	"convert": cmdConvert,
}

// jobView exposes the store position next to the persisted fields.
type jobView struct {
	Index int `json:"index"`
	tracker.Job
}

// UnmarshalJSON reads the index next to the record fields; the embedded
// Job decoder would otherwise swallow the whole object.
func (v *jobView) UnmarshalJSON(data []byte) error {
	if err := v.Job.UnmarshalJSON(data); err != nil {
		return err
	}
	var idx struct {
		Index int `json:"index"`
	}
	if err := json.Unmarshal(data, &idx); err != nil {
		return err
	}
	v.Index = idx.Index
	v.Job.Index = idx.Index
	return nil
}

func views(jobs []tracker.Job) []jobView {
	ret := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		ret = append(ret, jobView{Index: j.Index, Job: j})
	}
	return ret
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// parseArgs parses flags that may appear before, between or after the
// positional arguments, and returns the positionals.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	positional := make([]string, 0, len(args))
	for {
		if err := fs.Parse(args); err != nil {
			return nil, fmt.Errorf("%w: %v", errUsage, err)
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid job index %q", errUsage, s)
	}
	return n, nil
}

// infoFlag collects repeated k=v pairs. Values that parse as JSON keep
// their JSON type; anything else is stored as a string.
type infoFlag map[string]any

func (f infoFlag) String() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func (f infoFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	var parsed any
	if err := json.Unmarshal([]byte(v), &parsed); err == nil {
		f[strings.TrimSpace(k)] = parsed
		return nil
	}
	f[strings.TrimSpace(k)] = v
	return nil
}

func notFound(index int) error {
	return fmt.Errorf("no job at index %d", index)
}

func cmdAdd(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("add")
	var c tracker.Candidate
	info := infoFlag{}
	fs.StringVar(&c.Company, "company", "", "company name")
	fs.StringVar(&c.JobTitle, "title", "", "job title")
	fs.StringVar(&c.Location, "location", "", "job location")
	fs.StringVar(&c.JobURL, "url", "", "posting URL")
	fs.StringVar(&c.SalaryRange, "salary", "", "salary range")
	fs.StringVar(&c.JobBoard, "board", "", "job board")
	fs.Var(info, "info", "additional info key=value (repeatable)")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	if len(info) > 0 {
		c.AdditionalInfo = info
	}

	index, created, err := a.store.Ingest(ctx, c)
	if errors.Is(err, tracker.ErrInvalidCandidate) {
		return fmt.Errorf("%w: --company and --title are required", errUsage)
	}
	if err != nil {
		return err
	}
	return a.print(map[string]any{"index": index, "created": created})
}

func cmdStatus(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("status")
	note := fs.String("note", "", "note written to the log with the change")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 2 {
		return fmt.Errorf("%w: status takes <index> <status>", errUsage)
	}
	index, err := parseIndex(pos[0])
	if err != nil {
		return err
	}
	status, err := tracker.ParseStatus(pos[1])
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	ok, err := a.store.UpdateJobStatus(ctx, index, status, *note)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(index)
	}
	return printJob(a, index)
}

func cmdNote(ctx context.Context, a *app, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: note takes <index> <text>", errUsage)
	}
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	text := strings.TrimSpace(strings.Join(args[1:], " "))
	if text == "" {
		return fmt.Errorf("%w: note text is empty", errUsage)
	}

	ok, err := a.store.AddNote(ctx, index, text)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(index)
	}
	return printJob(a, index)
}

func cmdInfo(ctx context.Context, a *app, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: info takes <index> <key=value...>", errUsage)
	}
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	info := infoFlag{}
	for _, kv := range args[1:] {
		if err := info.Set(kv); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
	}

	ok, err := a.store.MergeAdditionalInfo(ctx, index, info)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(index)
	}
	return printJob(a, index)
}

func cmdGet(_ context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: get takes <index>", errUsage)
	}
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	return printJob(a, index)
}

func printJob(a *app, index int) error {
	job, ok := a.store.GetJob(index)
	if !ok {
		return notFound(index)
	}
	return a.print(jobView{Index: job.Index, Job: job})
}

func cmdList(_ context.Context, a *app, args []string) error {
	fs := newFlagSet("list")
	statusFlag := fs.String("status", "", "only records with this status")
	company := fs.String("company", "", "only records whose company contains this text")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	var jobs []tracker.Job
	switch {
	case *statusFlag != "":
		status, err := tracker.ParseStatus(*statusFlag)
		if err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		jobs = a.store.GetJobsByStatus(status)
		if *company != "" {
			byCompany := make(map[int]bool)
			for _, j := range a.store.GetJobsByCompany(*company) {
				byCompany[j.Index] = true
			}
			kept := jobs[:0]
			for _, j := range jobs {
				if byCompany[j.Index] {
					kept = append(kept, j)
				}
			}
			jobs = kept
		}
	case *company != "":
		jobs = a.store.GetJobsByCompany(*company)
	default:
		jobs = a.store.GetAllJobs()
	}
	return a.print(views(jobs))
}

func cmdSearch(_ context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: search takes <query>", errUsage)
	}
	return a.print(views(a.store.SearchJobs(strings.Join(args, " "))))
}

func cmdStats(_ context.Context, a *app, _ []string) error {
	return a.print(a.store.GetStatistics())
}

func cmdCheck(_ context.Context, a *app, args []string) error {
	fs := newFlagSet("check")
	company := fs.String("company", "", "company name")
	title := fs.String("title", "", "job title")
	url := fs.String("url", "", "posting URL")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	if *url == "" && (*company == "" || *title == "") {
		return fmt.Errorf("%w: check needs --url or both --company and --title", errUsage)
	}

	index, dup := a.store.CheckDuplicate(*company, *title, *url)
	if !dup {
		return a.print(map[string]any{"duplicate": false})
	}
	return a.print(map[string]any{"duplicate": true, "index": index})
}

func (a *app) ingester() *ingest.Ingester {
	return ingest.NewIngester(a.store, ingest.WithConcurrency(a.cfg.Ingest.Concurrency))
}

func cmdIngest(ctx context.Context, a *app, args []string) error {
	var (
		report ingest.Report
		err    error
	)
	if len(args) > 0 {
		report, err = a.ingester().IngestFiles(ctx, args)
	} else {
		if err := os.MkdirAll(a.cfg.Ingest.InboxDir, 0o755); err != nil {
			return err
		}
		report, err = a.ingester().IngestInbox(ctx, a.cfg.Ingest.InboxDir, time.Time{})
	}
	if printErr := a.print(report); printErr != nil {
		return printErr
	}
	return err
}

func cmdWatch(ctx context.Context, a *app, _ []string) error {
	sched := ingest.NewScheduler(a.ingester(), a.cfg.Ingest.InboxDir, a.cfg.Ingest.CronExpr)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	if _, err := sched.RunOnce(ctx); err != nil {
		log.Error("Initial ingest of %s failed: %v", a.cfg.Ingest.InboxDir, err)
	}
	<-ctx.Done()
	log.Info("Stopping inbox watcher")
	return nil
}

func cmdApply(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("apply")
	reviewed := fs.Bool("reviewed", false, "apply to every reviewed record")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}

	indices := make([]int, 0, len(pos))
	for _, p := range pos {
		index, err := parseIndex(p)
		if err != nil {
			return err
		}
		indices = append(indices, index)
	}
	if *reviewed {
		for _, j := range a.store.GetJobsByStatus(tracker.StatusReviewed) {
			indices = append(indices, j.Index)
		}
	}
	if len(indices) == 0 {
		return fmt.Errorf("%w: apply needs indices or --reviewed", errUsage)
	}
	if a.cfg.Apply.Hook == "" {
		return errors.New("APPLY_HOOK is not configured")
	}

	applier, err := apply.NewHookApplier(a.cfg.Apply.Hook)
	if err != nil {
		return err
	}
	q := apply.NewQueue(a.store, applier,
		apply.WithWorkers(a.cfg.Apply.Workers),
		apply.WithTimeout(a.cfg.Apply.TimeoutDuration()),
	)
	for _, index := range indices {
		if _, _, err := q.Enqueue(index); err != nil {
			return err
		}
	}

	q.Start(ctx)
	drainErr := q.Drain(ctx)
	q.Stop()

	tasks := q.List()
	if err := a.print(tasks); err != nil {
		return err
	}
	if drainErr != nil {
		return drainErr
	}
	failed := 0
	for _, t := range tasks {
		if t.Status == apply.TaskFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d applications failed", failed, len(tasks))
	}
	return nil
}

// cmdConvert copies the loaded records into another backend.
func cmdConvert(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("convert")
	to := fs.String("to", "", "target backend: json or sqlite")
	dest := fs.String("dest", "", "target file")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	if *dest == "" {
		return fmt.Errorf("%w: convert needs --dest", errUsage)
	}

	kind := config.Backend(strings.ToLower(*to))
	if kind != config.BackendJSON && kind != config.BackendSQLite {
		return fmt.Errorf("%w: unknown target backend %q", errUsage, *to)
	}
	backend, closer, err := openBackend(kind, config.StoreConfig{JobsFile: *dest, SQLitePath: *dest})
	if err != nil {
		return err
	}
	defer func() {
		if err := closer(); err != nil {
			log.Error("Failed to close %s: %v", *dest, err)
		}
	}()

	jobs := a.store.GetAllJobs()
	if err := backend.Save(ctx, jobs); err != nil {
		return fmt.Errorf("write %s: %w", *dest, err)
	}
	log.Info("Converted %d job records to %s at %s", len(jobs), kind, *dest)
	return a.print(map[string]any{"records": len(jobs), "backend": kind, "dest": *dest})
}
