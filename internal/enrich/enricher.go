// internal/enrich/enricher.go
package enrich

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github-trend-tracker/internal/errors"
	"github-trend-tracker/internal/model"
)

const (
	readmeConcurrency = 5
	readmeExcerptLen  = 500
)

// ReadmeFetcher supplies a plain-text README excerpt for a repository.
type ReadmeFetcher interface {
	GetReadmeExcerpt(ctx context.Context, owner, name string, maxLen int) (string, error)
}

// RepoSummarizer turns repository records into detail records.
type RepoSummarizer interface {
	Summarize(ctx context.Context, records []model.RepositoryRecord) ([]model.RepositoryDetail, error)
}

// Enricher fetches README excerpts and drives the summarizer, falling back
// to rule-based classification per repository when the service is
// unavailable. It never fails the run.
type Enricher struct {
	readmes    ReadmeFetcher
	summarizer RepoSummarizer
	logger     *slog.Logger
}

// NewEnricher creates an Enricher. readmes may be nil to skip README
// fetching; summarizer may be nil to force the rule-based path.
func NewEnricher(readmes ReadmeFetcher, summarizer RepoSummarizer, logger *slog.Logger) *Enricher {
	return &Enricher{readmes: readmes, summarizer: summarizer, logger: logger}
}

// Enrich produces one detail record per input record, stamped with the run
// date, ordered by full_name for determinism. README fetches run
// concurrently across repositories; results are collected before the
// summarizer is invoked so downstream consumers see a materialized,
// deterministic input.
func (e *Enricher) Enrich(ctx context.Context, records []model.RepositoryRecord, date time.Time) []model.RepositoryDetail {
	if len(records) == 0 {
		return nil
	}

	e.fetchReadmes(ctx, records)

	details := e.summarize(ctx, records)

	// Index the summarizer's answers and fall back for anything it missed.
	byName := make(map[string]model.RepositoryDetail, len(details))
	for _, d := range details {
		byName[d.FullName] = d
	}

	out := make([]model.RepositoryDetail, 0, len(records))
	for _, r := range records {
		d, ok := byName[r.FullName]
		if !ok {
			d = fallbackDetail(r)
		}
		d.FirstSeenDate = date
		d.LastSeenDate = date
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out
}

func (e *Enricher) fetchReadmes(ctx context.Context, records []model.RepositoryRecord) {
	if e.readmes == nil {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readmeConcurrency)

	for i := range records {
		g.Go(func() error {
			excerpt, err := e.readmes.GetReadmeExcerpt(gctx, records[i].Owner, records[i].Name, readmeExcerptLen)
			if err != nil {
				e.logger.Warn("Failed to fetch README", "repo", records[i].FullName, "error", err)
				return nil
			}
			records[i].ReadmeExcerpt = excerpt
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Enricher) summarize(ctx context.Context, records []model.RepositoryRecord) []model.RepositoryDetail {
	if e.summarizer == nil {
		return nil
	}
	details, err := e.summarizer.Summarize(ctx, records)
	if err != nil {
		if apperrors.IsEnrichmentUnavailable(err) {
			e.logger.Warn("Summarization unavailable, using rule-based fallback", "error", err)
		} else {
			e.logger.Error("Summarization failed, using rule-based fallback", "error", err)
		}
		return nil
	}
	return details
}
