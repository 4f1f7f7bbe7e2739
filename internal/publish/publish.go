// Package publish writes compiled calendars to disk on a cron schedule so a
// static file server can host them.
package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"calfeed/internal/config"
	"calfeed/internal/ics"
	appLog "calfeed/internal/log"
	"calfeed/internal/metrics"
	"calfeed/internal/model"
)

// Source supplies stored events per owner.
type Source interface {
	EventsForOwner(ctx context.Context, owner string) ([]model.RawEvent, error)
}

// OwnerLister is implemented by sources that can enumerate owners. It is
// used when no owners are configured.
type OwnerLister interface {
	Owners(ctx context.Context) ([]string, error)
}

// Publisher compiles each owner's calendar and writes <dir>/<owner>.ics.
type Publisher struct {
	cfg      config.PublishConfig
	src      Source
	compiler *ics.Compiler
	loc      *time.Location
}

func New(cfg config.PublishConfig, src Source, compiler *ics.Compiler, loc *time.Location) *Publisher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Publisher{cfg: cfg, src: src, compiler: compiler, loc: loc}
}

// Run schedules RunOnce on the configured cron expression and blocks until
// ctx is cancelled. A run still in progress is skipped, not queued.
func (p *Publisher) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(p.loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(p.cfg.Cron, func() {
		if _, err := p.RunOnce(ctx); err != nil {
			appLog.Error("scheduled publish incomplete", err)
		}
	}); err != nil {
		return fmt.Errorf("publish: schedule %q: %w", p.cfg.Cron, err)
	}

	appLog.Info("publisher started", "cron", p.cfg.Cron, "dir", p.cfg.Dir)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("publisher stopped")
	return nil
}

// RunOnce publishes every owner once and returns how many files were
// written. One owner's failure does not stop the others; all failures are
// joined into the returned error.
func (p *Publisher) RunOnce(ctx context.Context) (int, error) {
	owners, err := p.owners(ctx)
	if err != nil {
		metrics.PublishRuns.WithLabelValues("failed").Inc()
		return 0, err
	}
	if err := os.MkdirAll(p.cfg.Dir, 0o755); err != nil {
		metrics.PublishRuns.WithLabelValues("failed").Inc()
		return 0, fmt.Errorf("publish: create dir: %w", err)
	}

	owners, errs := claimFileNames(owners)

	var (
		mu      sync.Mutex
		written int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, owner := range owners {
		g.Go(func() error {
			err := p.publishOwner(gctx, owner)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				appLog.Error("publish owner failed", err, "owner", owner)
				errs = append(errs, fmt.Errorf("%s: %w", owner, err))
				return nil
			}
			written++
			return nil
		})
	}
	_ = g.Wait()

	result := "ok"
	if len(errs) > 0 {
		result = "partial"
	}
	metrics.PublishRuns.WithLabelValues(result).Inc()
	appLog.Info("publish run finished", "written", written, "failed", len(errs))
	return written, errors.Join(errs...)
}

func (p *Publisher) owners(ctx context.Context) ([]string, error) {
	if len(p.cfg.Owners) > 0 {
		return p.cfg.Owners, nil
	}
	lister, ok := p.src.(OwnerLister)
	if !ok {
		return nil, errors.New("publish: no owners configured")
	}
	owners, err := lister.Owners(ctx)
	if err != nil {
		return nil, fmt.Errorf("publish: list owners: %w", err)
	}
	return owners, nil
}

// publishOwner keeps the previous file when compilation degrades, so a
// transient failure never replaces a good feed with an empty one.
func (p *Publisher) publishOwner(ctx context.Context, owner string) error {
	raws, err := p.src.EventsForOwner(ctx, owner)
	if err != nil {
		return err
	}

	res := p.compiler.Compile(raws)
	if res.Status == ics.StatusDegraded {
		return res.Err
	}

	path := filepath.Join(p.cfg.Dir, FileName(owner))
	if err := config.WriteFileAtomic(path, res.Body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	appLog.Debug("calendar published", "owner", owner, "path", path, "events", res.Compiled)
	return nil
}

// claimFileNames keeps the first owner for each file name. Later owners
// whose ids map to the same name are reported instead of overwriting it.
func claimFileNames(owners []string) ([]string, []error) {
	claimed := make(map[string]string, len(owners))
	kept := make([]string, 0, len(owners))
	var errs []error
	for _, owner := range owners {
		name := FileName(owner)
		if first, ok := claimed[name]; ok {
			if first == owner {
				continue
			}
			err := fmt.Errorf("%s: file %s already written for owner %q", owner, name, first)
			appLog.Error("publish file name collision", err, "owner", owner, "file", name)
			errs = append(errs, err)
			continue
		}
		claimed[name] = owner
		kept = append(kept, owner)
	}
	return kept, errs
}

// FileName maps an owner id to a flat file name.
func FileName(owner string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '@':
			return r
		default:
			return '_'
		}
	}, owner)
	return safe + ".ics"
}
