// Package sync imports cards from markdown sources: local directories and git
// repositories checked out under the repos directory.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/conorfennell/dailyreview/internal/config"
	"github.com/conorfennell/dailyreview/internal/deck"
	"github.com/conorfennell/dailyreview/internal/domain"
	"github.com/conorfennell/dailyreview/internal/gitsource"
	"github.com/conorfennell/dailyreview/internal/knol"
	"github.com/conorfennell/dailyreview/internal/parser"
)

// Report summarises one reconciliation of a source.
type Report struct {
	Root    string  `json:"root"`
	Files   int     `json:"files"`
	Parsed  int     `json:"parsed"`
	Created int     `json:"created"`
	Skipped int     `json:"skipped"`
	Pruned  int     `json:"pruned"`
	Errors  []error `json:"-"`
}

// Syncer reconciles sources against an owner's cards.
type Syncer struct {
	deck   *deck.Service
	git    *gitsource.Syncer
	cfg    config.SyncConfig
	logger *slog.Logger
}

// New builds a Syncer.
func New(svc *deck.Service, git *gitsource.Syncer, cfg config.SyncConfig, logger *slog.Logger) *Syncer {
	return &Syncer{deck: svc, git: git, cfg: cfg, logger: logger}
}

// Run iterates over all sources and reconciles them. A failing source does not
// stop the others; every failure is returned joined.
func (s *Syncer) Run(ctx context.Context, owner string, sources []config.SourceConfig) ([]Report, error) {
	if len(sources) == 0 {
		s.logger.Info("no sources configured")
		return nil, nil
	}

	var reports []Report
	var errs []error
	for _, src := range sources {
		root, err := s.resolve(ctx, src)
		if err != nil {
			s.logger.Error("failed to prepare source", "source", describe(src), "error", err)
			errs = append(errs, err)
			continue
		}
		report, err := s.Reconcile(ctx, owner, root)
		if err != nil {
			s.logger.Error("failed to reconcile source", "root", root, "error", err)
			errs = append(errs, err)
			continue
		}
		reports = append(reports, report)
	}
	return reports, errors.Join(errs...)
}

// resolve returns the local directory for a source, cloning or pulling git
// sources first.
func (s *Syncer) resolve(ctx context.Context, src config.SourceConfig) (string, error) {
	if src.Repo == "" {
		return filepath.Abs(src.Path)
	}
	local, err := gitsource.LocalPath(s.cfg.ReposDir, src.Repo)
	if err != nil {
		return "", err
	}
	if err := s.git.Sync(ctx, src.Repo, local); err != nil {
		return "", err
	}
	root := local
	if src.Path != "" {
		root = filepath.Join(local, filepath.Clean(src.Path))
	}
	return filepath.Abs(root)
}

// Reconcile imports every card found in the markdown files under root. Cards
// get deterministic IDs, so cards already imported are left untouched.
func (s *Syncer) Reconcile(ctx context.Context, owner, root string) (Report, error) {
	report := Report{Root: root}
	var drafts []domain.Draft
	found := make(map[string]struct{})

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !isMarkdown(path) {
			return nil
		}
		report.Files++

		fileDrafts, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			report.Errors = append(report.Errors, fmt.Errorf("parsing %s: %w", path, parseErr))
			return nil
		}
		for _, draft := range fileDrafts {
			source := path
			draft.SourceConversation = &source
			draft.ID = knol.ID(owner, draft)
			found[draft.ID] = struct{}{}
			drafts = append(drafts, draft)
		}
		return ctx.Err()
	})
	if walkErr != nil {
		return report, fmt.Errorf("walking %s: %w", root, walkErr)
	}
	report.Parsed = len(drafts)

	res, err := s.deck.Import(ctx, owner, drafts)
	if err != nil {
		return report, err
	}
	report.Created = len(res.Created)
	report.Skipped = res.Skipped

	if s.cfg.Prune {
		if report.Pruned, err = s.prune(ctx, owner, root, found); err != nil {
			return report, err
		}
	}

	if err := s.deck.MarkSourceScanned(ctx, owner, root); err != nil {
		s.logger.Warn("failed to update last scanned for source", "root", root, "error", err)
	}

	s.logger.Info("reconciliation complete",
		"root", root,
		"files", report.Files,
		"parsed_cards", report.Parsed,
		"created", report.Created,
		"pruned", report.Pruned,
		"errors", len(report.Errors),
	)
	return report, nil
}

// prune deletes triaging cards imported from root whose note no longer exists.
// Accepted or suspended cards carry the learner's decisions and are kept.
func (s *Syncer) prune(ctx context.Context, owner, root string, found map[string]struct{}) (int, error) {
	triaging := domain.StatusTriaging
	cards, err := s.deck.List(ctx, owner, domain.ListFilter{Status: &triaging})
	if err != nil {
		return 0, err
	}

	prefix := root + string(filepath.Separator)
	pruned := 0
	for _, c := range cards {
		if c.SourceConversation == nil || !strings.HasPrefix(*c.SourceConversation, prefix) {
			continue
		}
		if _, ok := found[c.ID]; ok {
			continue
		}
		if err := s.deck.Delete(ctx, owner, c.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return pruned, err
		}
		s.logger.Debug("pruned orphaned card", "card_id", c.ID)
		pruned++
	}
	return pruned, nil
}

func isMarkdown(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".md")
}

func describe(src config.SourceConfig) string {
	if src.Repo != "" {
		return src.Repo
	}
	return src.Path
}
