// internal/pipeline/pipeline.go
package pipeline

import (
	"context"
	"log/slog"
	"time"

	apperrors "github-trend-tracker/internal/errors"
	"github-trend-tracker/internal/github"
	"github-trend-tracker/internal/model"
	"github-trend-tracker/internal/trend"
)

// Fetcher is the search-based source adapter.
type Fetcher interface {
	SearchByTopic(ctx context.Context, topic string, limit int) ([]model.RepositoryRecord, error)
	SearchTrending(ctx context.Context, q github.TrendingQuery, limit int) ([]model.RepositoryRecord, error)
}

// PeriodFetcher is the page-scrape fallback for trending windows.
type PeriodFetcher interface {
	FetchPeriod(ctx context.Context, period model.Period, limit int) ([]model.RepositoryRecord, int, error)
}

// Enricher produces detail records for the day's top repositories.
type Enricher interface {
	Enrich(ctx context.Context, records []model.RepositoryRecord, date time.Time) []model.RepositoryDetail
}

// Storage is the snapshot store surface the pipeline writes through.
type Storage interface {
	RecordSnapshot(ctx context.Context, date time.Time, mode model.Mode, entries []model.SnapshotEntry) error
	UpsertDetails(ctx context.Context, details []model.RepositoryDetail) error
	AppendHistory(ctx context.Context, points []model.HistoryPoint) error
	QueryPrevious(ctx context.Context, date time.Time, mode model.Mode) ([]model.SnapshotEntry, error)
	DetailsByName(ctx context.Context) (map[string]model.RepositoryDetail, error)
	PurgeOlderThan(ctx context.Context, ref time.Time, retentionDays int) (int64, error)
}

// Options configures one ingestion run.
type Options struct {
	Mode          model.Mode
	Topic         string
	Trending      github.TrendingQuery
	FetchLimit    int
	TopNDetails   int
	RetentionDays int
	Trend         trend.Config
	FetchOnly     bool
}

// Pipeline executes the single logical run: fetch, enrich, analyze, persist,
// purge. It runs to completion and holds no state between runs.
type Pipeline struct {
	fetcher  Fetcher
	scraper  PeriodFetcher
	enricher Enricher
	store    Storage
	logger   *slog.Logger
	opts     Options
}

// New assembles a Pipeline. scraper and enricher may be nil: without a
// scraper the trending mode has no page fallback, and without an enricher
// no detail records are produced.
func New(fetcher Fetcher, scraper PeriodFetcher, enricher Enricher, store Storage, logger *slog.Logger, opts Options) *Pipeline {
	return &Pipeline{
		fetcher:  fetcher,
		scraper:  scraper,
		enricher: enricher,
		store:    store,
		logger:   logger,
		opts:     opts,
	}
}

// Run executes one ingestion run for the given date. Rate-limit and storage
// errors abort the run; a source outage degrades to persisting whatever was
// fetched. The returned TrendResult feeds the report generators.
func (p *Pipeline) Run(ctx context.Context, date time.Time) (*model.TrendResult, error) {
	records, fetchFailed, err := p.fetch(ctx)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Fetched repositories", "mode", p.opts.Mode, "count", len(records), "degraded", fetchFailed)

	entries := buildEntries(date, p.opts.Mode, records)

	var details []model.RepositoryDetail
	if p.enricher != nil && !p.opts.FetchOnly {
		topN := min(p.opts.TopNDetails, len(records))
		details = p.enricher.Enrich(ctx, records[:topN], date)
		p.logger.Info("Enriched repositories", "count", len(details))
	}

	previous, err := p.store.QueryPrevious(ctx, date, p.opts.Mode)
	if err != nil {
		return nil, err
	}

	known, err := p.store.DetailsByName(ctx)
	if err != nil {
		return nil, err
	}
	if known == nil {
		known = make(map[string]model.RepositoryDetail, len(details))
	}
	for _, d := range details {
		known[d.FullName] = d
	}

	result := trend.Analyze(date, p.opts.Mode, entries, previous, known, p.opts.Trend)

	if err := p.persist(ctx, date, result, details, fetchFailed); err != nil {
		return nil, err
	}

	if _, err := p.store.PurgeOlderThan(ctx, date, p.opts.RetentionDays); err != nil {
		return nil, err
	}

	p.logger.Info("Run complete",
		"date", date.Format(time.DateOnly),
		"mode", p.opts.Mode,
		"repos", result.Summary.TotalRepos,
		"newcomers", result.Summary.NewcomerCount,
		"dropouts", result.Summary.DropoutCount,
		"surges", result.Summary.SurgeCount,
	)
	return &result, nil
}

// fetch dispatches on mode. A source outage is not fatal: the run continues
// with whatever was fetched (possibly nothing), reported via fetchFailed.
// Rate-limit errors abort so the caller can exit with a distinct status.
func (p *Pipeline) fetch(ctx context.Context) (records []model.RepositoryRecord, fetchFailed bool, err error) {
	switch p.opts.Mode {
	case model.ModeTrending:
		records, err = p.fetcher.SearchTrending(ctx, p.opts.Trending, p.opts.FetchLimit)
		if err != nil && apperrors.IsSourceUnavailable(err) && p.scraper != nil {
			p.logger.Warn("Trending search unavailable, falling back to page scrape", "error", err)
			var skipped int
			records, skipped, err = p.scraper.FetchPeriod(ctx, model.PeriodDaily, p.opts.FetchLimit)
			if skipped > 0 {
				p.logger.Warn("Scrape fallback dropped rows", "skipped", skipped)
			}
		}
	default:
		records, err = p.fetcher.SearchByTopic(ctx, p.opts.Topic, p.opts.FetchLimit)
	}

	if err != nil {
		if apperrors.IsRateLimited(err) {
			return nil, false, err
		}
		if apperrors.IsSourceUnavailable(err) {
			p.logger.Error("Source unavailable, continuing with fetched data", "error", err, "fetched", len(records))
			return records, true, nil
		}
		return nil, false, err
	}
	return records, false, nil
}

// persist writes the snapshot, history and details. Nothing is written for
// the snapshot when a failed fetch produced zero records, so a degraded run
// never wipes an existing snapshot for the date.
func (p *Pipeline) persist(ctx context.Context, date time.Time, result model.TrendResult, details []model.RepositoryDetail, fetchFailed bool) error {
	if fetchFailed && len(result.Entries) == 0 {
		p.logger.Warn("Skipping snapshot persistence: degraded fetch returned nothing")
		return nil
	}

	entries := make([]model.SnapshotEntry, 0, len(result.Entries))
	points := make([]model.HistoryPoint, 0, len(result.Entries))
	for _, e := range result.Entries {
		se := e.SnapshotEntry
		se.StarsDelta = e.StarsDelta
		entries = append(entries, se)
		points = append(points, model.HistoryPoint{
			FullName: se.FullName,
			Date:     date,
			Rank:     se.Rank,
			Stars:    se.Stars,
			Forks:    se.Forks,
		})
	}

	if err := p.store.RecordSnapshot(ctx, date, p.opts.Mode, entries); err != nil {
		return err
	}
	if err := p.store.AppendHistory(ctx, points); err != nil {
		return err
	}
	if len(details) > 0 {
		if err := p.store.UpsertDetails(ctx, details); err != nil {
			return err
		}
	}
	return nil
}

// buildEntries assigns dense 1-based ranks in slice order. Search results
// arrive pre-sorted by (stars desc, full_name asc); scrape results keep the
// page's own ordering.
func buildEntries(date time.Time, mode model.Mode, records []model.RepositoryRecord) []model.SnapshotEntry {
	entries := make([]model.SnapshotEntry, 0, len(records))
	for i, r := range records {
		entries = append(entries, model.SnapshotEntry{
			Date:      date,
			Mode:      mode,
			Rank:      i + 1,
			FullName:  r.FullName,
			Owner:     r.Owner,
			Stars:     r.Stars,
			Forks:     r.Forks,
			Language:  r.Language,
			URL:       r.URL,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return entries
}
