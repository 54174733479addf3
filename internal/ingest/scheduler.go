package ingest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/jobtrack/pkg/file"
	"github.com/MimeLyc/jobtrack/pkg/icron"
	"github.com/MimeLyc/jobtrack/pkg/log"
)

// Scheduler scans an inbox directory on a cron schedule. Overlapping
// triggers share one run. A file is ingested when its path is new or its
// modification time differs from the last ingested one, so files moved in
// with an old timestamp are still picked up.
type Scheduler struct {
	ingester *Ingester
	dir      string
	cronExpr string
	cron     *cron.Cron
	group    singleflight.Group

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewScheduler(ingester *Ingester, dir string, cronExpr string) *Scheduler {
	return &Scheduler{
		ingester: ingester,
		dir:      dir,
		cronExpr: cronExpr,
		cron:     cron.New(cron.WithParser(icron.Parser)),
		seen:     make(map[string]time.Time),
	}
}

// RunOnce ingests inbox files not yet ingested in their current version.
// Files that fail to parse are remembered too and retried only once they
// change; a store write failure leaves the whole batch pending.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	v, err, _ := s.group.Do("ingest", func() (any, error) {
		files, err := file.List(s.dir, SupportedExts...)
		if err != nil {
			return emptyReport(), fmt.Errorf("scan inbox %s: %w", s.dir, err)
		}

		pending := s.unseen(files)
		if len(pending) == 0 {
			log.Debug("No new candidate files in %s", s.dir)
			return emptyReport(), nil
		}

		paths := make([]string, 0, len(pending))
		for _, f := range pending {
			paths = append(paths, f.Path)
		}
		report, err := s.ingester.IngestFiles(ctx, paths)
		if err != nil {
			return report, err
		}
		s.markSeen(pending)
		return report, nil
	})
	report, _ := v.(Report)
	return report, err
}

func (s *Scheduler) unseen(files []file.Found) []file.Found {
	s.mu.Lock()
	defer s.mu.Unlock()

	ret := make([]file.Found, 0, len(files))
	for _, f := range files {
		if last, ok := s.seen[f.Path]; ok && last.Equal(f.ModTime) {
			continue
		}
		ret = append(ret, f)
	}
	return ret
}

func (s *Scheduler) markSeen(files []file.Found) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range files {
		s.seen[f.Path] = f.ModTime
	}
}

// Start registers the cron trigger and starts the cron runner. The inbox
// directory is created when missing.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	_, err := s.cron.AddFunc(s.cronExpr, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			log.Error("Scheduled ingest of %s failed: %v", s.dir, err)
		}
		s.logNextTrigger()
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	log.Info("Watching inbox %s", s.dir)
	s.logNextTrigger()
	return nil
}

// Stop stops the cron runner and waits for a running ingest to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) logNextTrigger() {
	info, err := icron.GetTriggerInfo(s.cronExpr, time.Now())
	if err != nil {
		log.Warn("Cannot compute next ingest trigger: %v", err)
		return
	}
	log.Info("Next ingest trigger: %s", info)
}
