package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/jobtrack/internal/tracker"
	"github.com/MimeLyc/jobtrack/pkg/file"
	"github.com/MimeLyc/jobtrack/pkg/log"
)

// Adder is the part of the job store ingestion writes to.
type Adder interface {
	Ingest(ctx context.Context, c tracker.Candidate) (index int, created bool, err error)
}

type Report struct {
	Batch       string            `json:"batch"`
	Files       int               `json:"files"`
	Candidates  int               `json:"candidates"`
	Added       int               `json:"added"`
	Duplicates  int               `json:"duplicates"`
	Invalid     int               `json:"invalid"`
	Indices     []int             `json:"indices"`
	FailedFiles map[string]string `json:"failedFiles,omitempty"`
}

type Option func(*Ingester)

// WithConcurrency bounds how many files are parsed at once.
func WithConcurrency(n int) Option {
	return func(i *Ingester) {
		if n > 0 {
			i.concurrency = n
		}
	}
}

type Ingester struct {
	store       Adder
	concurrency int
}

func NewIngester(store Adder, opts ...Option) *Ingester {
	i := &Ingester{store: store, concurrency: 4}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

type parsed struct {
	candidates []tracker.Candidate
	invalid    int
	err        error
}

// IngestFiles parses paths in parallel and adds their candidates in path
// order. Files that fail to parse are listed in Report.FailedFiles; a store
// write failure stops the run and is returned with the partial report.
func (i *Ingester) IngestFiles(ctx context.Context, paths []string) (Report, error) {
	report := Report{
		Batch:   uuid.NewString(),
		Files:   len(paths),
		Indices: make([]int, 0),
	}

	results := make([]parsed, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)
	for n, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			candidates, invalid, err := ParseFile(path)
			results[n] = parsed{candidates: candidates, invalid: invalid, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	seen := make(map[int]bool)
	for n, res := range results {
		path := paths[n]
		if res.err != nil {
			log.Error("Skipping candidate file %s: %v", path, res.err)
			if report.FailedFiles == nil {
				report.FailedFiles = make(map[string]string)
			}
			report.FailedFiles[path] = res.err.Error()
			continue
		}
		report.Invalid += res.invalid

		for _, c := range res.candidates {
			report.Candidates++
			c.AdditionalInfo[InfoSourceFile] = filepath.Base(path)
			c.AdditionalInfo[InfoBatch] = report.Batch

			idx, created, err := i.store.Ingest(ctx, c)
			if err != nil {
				return report, fmt.Errorf("ingest %s: %w", path, err)
			}
			if !created {
				report.Duplicates++
				continue
			}
			report.Added++
			if !seen[idx] {
				seen[idx] = true
				report.Indices = append(report.Indices, idx)
			}
		}
	}

	log.Info("Ingest batch %s: %d files, %d candidates, %d added, %d duplicates, %d invalid",
		report.Batch, report.Files, report.Candidates, report.Added, report.Duplicates, report.Invalid)
	return report, nil
}

// IngestInbox ingests supported files under dir modified after since.
func (i *Ingester) IngestInbox(ctx context.Context, dir string, since time.Time) (Report, error) {
	paths, err := file.FindRecentAfter(dir, since, SupportedExts...)
	if err != nil {
		return Report{}, fmt.Errorf("scan inbox %s: %w", dir, err)
	}
	if len(paths) == 0 {
		log.Debug("No new candidate files in %s since %s", dir, since.Format(time.RFC3339))
		return emptyReport(), nil
	}
	return i.IngestFiles(ctx, paths)
}

func emptyReport() Report {
	return Report{Indices: make([]int, 0)}
}
