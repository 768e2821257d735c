// internal/pipeline/pipeline_test.go
package pipeline

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github-trend-tracker/internal/errors"
	"github-trend-tracker/internal/github"
	"github-trend-tracker/internal/model"
)

// MockFetcher is a mock of the Fetcher interface.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) SearchByTopic(ctx context.Context, topic string, limit int) ([]model.RepositoryRecord, error) {
	args := m.Called(ctx, topic, limit)
	var records []model.RepositoryRecord
	if v := args.Get(0); v != nil {
		records = v.([]model.RepositoryRecord)
	}
	return records, args.Error(1)
}

func (m *MockFetcher) SearchTrending(ctx context.Context, q github.TrendingQuery, limit int) ([]model.RepositoryRecord, error) {
	args := m.Called(ctx, q, limit)
	var records []model.RepositoryRecord
	if v := args.Get(0); v != nil {
		records = v.([]model.RepositoryRecord)
	}
	return records, args.Error(1)
}

// MockScraper is a mock of the PeriodFetcher interface.
type MockScraper struct {
	mock.Mock
}

func (m *MockScraper) FetchPeriod(ctx context.Context, period model.Period, limit int) ([]model.RepositoryRecord, int, error) {
	args := m.Called(ctx, period, limit)
	var records []model.RepositoryRecord
	if v := args.Get(0); v != nil {
		records = v.([]model.RepositoryRecord)
	}
	return records, args.Int(1), args.Error(2)
}

// MockEnricher is a mock of the Enricher interface.
type MockEnricher struct {
	mock.Mock
}

func (m *MockEnricher) Enrich(ctx context.Context, records []model.RepositoryRecord, date time.Time) []model.RepositoryDetail {
	args := m.Called(ctx, records, date)
	var details []model.RepositoryDetail
	if v := args.Get(0); v != nil {
		details = v.([]model.RepositoryDetail)
	}
	return details
}

// MockStorage is a mock of the Storage interface.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) RecordSnapshot(ctx context.Context, date time.Time, mode model.Mode, entries []model.SnapshotEntry) error {
	args := m.Called(ctx, date, mode, entries)
	return args.Error(0)
}

func (m *MockStorage) UpsertDetails(ctx context.Context, details []model.RepositoryDetail) error {
	args := m.Called(ctx, details)
	return args.Error(0)
}

func (m *MockStorage) AppendHistory(ctx context.Context, points []model.HistoryPoint) error {
	args := m.Called(ctx, points)
	return args.Error(0)
}

func (m *MockStorage) QueryPrevious(ctx context.Context, date time.Time, mode model.Mode) ([]model.SnapshotEntry, error) {
	args := m.Called(ctx, date, mode)
	var entries []model.SnapshotEntry
	if v := args.Get(0); v != nil {
		entries = v.([]model.SnapshotEntry)
	}
	return entries, args.Error(1)
}

func (m *MockStorage) DetailsByName(ctx context.Context) (map[string]model.RepositoryDetail, error) {
	args := m.Called(ctx)
	var details map[string]model.RepositoryDetail
	if v := args.Get(0); v != nil {
		details = v.(map[string]model.RepositoryDetail)
	}
	return details, args.Error(1)
}

func (m *MockStorage) PurgeOlderThan(ctx context.Context, ref time.Time, retentionDays int) (int64, error) {
	args := m.Called(ctx, ref, retentionDays)
	return args.Get(0).(int64), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func testOptions() Options {
	return Options{
		Mode:          model.ModeTopic,
		Topic:         "claude-code",
		FetchLimit:    100,
		TopNDetails:   50,
		RetentionDays: 90,
	}
}

var testDate = time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

func fetchedRecords() []model.RepositoryRecord {
	return []model.RepositoryRecord{
		{FullName: "acme/alpha", Owner: "acme", Name: "alpha", Stars: 200, Forks: 4, Language: "Go", URL: "u1"},
		{FullName: "acme/beta", Owner: "acme", Name: "beta", Stars: 100, Forks: 2, Language: "Rust", URL: "u2"},
	}
}

func TestPipeline_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("topic mode happy path", func(t *testing.T) {
		fetcher := new(MockFetcher)
		enricher := new(MockEnricher)
		storage := new(MockStorage)

		records := fetchedRecords()
		fetcher.On("SearchByTopic", ctx, "claude-code", 100).Return(records, nil).Once()

		details := []model.RepositoryDetail{{FullName: "acme/alpha", Summary: "s", Category: model.CategoryTool}}
		enricher.On("Enrich", ctx, records, testDate).Return(details, nil).Once()

		previous := []model.SnapshotEntry{
			{Date: testDate.AddDate(0, 0, -1), Mode: model.ModeTopic, Rank: 1, FullName: "acme/alpha", Stars: 150},
		}
		storage.On("QueryPrevious", ctx, testDate, model.ModeTopic).Return(previous, nil).Once()
		storage.On("DetailsByName", ctx).Return(map[string]model.RepositoryDetail{}, nil).Once()

		var savedEntries []model.SnapshotEntry
		storage.On("RecordSnapshot", ctx, testDate, model.ModeTopic, mock.Anything).
			Run(func(args mock.Arguments) { savedEntries = args.Get(3).([]model.SnapshotEntry) }).
			Return(nil).Once()
		storage.On("AppendHistory", ctx, mock.Anything).Return(nil).Once()
		storage.On("UpsertDetails", ctx, details).Return(nil).Once()
		storage.On("PurgeOlderThan", ctx, testDate, 90).Return(int64(0), nil).Once()

		p := New(fetcher, nil, enricher, storage, testLogger(), testOptions())
		result, err := p.Run(ctx, testDate)

		require.NoError(t, err)
		require.NotNil(t, result)

		require.Len(t, savedEntries, 2)
		assert.Equal(t, 1, savedEntries[0].Rank)
		assert.Equal(t, "acme/alpha", savedEntries[0].FullName)
		assert.Equal(t, 50, savedEntries[0].StarsDelta, "delta against the previous snapshot")
		assert.Equal(t, 2, savedEntries[1].Rank)
		assert.Equal(t, 100, savedEntries[1].StarsDelta, "newcomers carry their full star count")

		require.Len(t, result.Entries, 2)
		assert.False(t, result.Entries[0].IsNew)
		assert.True(t, result.Entries[1].IsNew)
		assert.Equal(t, "s", result.Entries[0].Summary, "freshly enriched details annotate the result")

		fetcher.AssertExpectations(t)
		enricher.AssertExpectations(t)
		storage.AssertExpectations(t)
	})

	t.Run("nil details map from storage is tolerated", func(t *testing.T) {
		fetcher := new(MockFetcher)
		enricher := new(MockEnricher)
		storage := new(MockStorage)

		records := fetchedRecords()
		fetcher.On("SearchByTopic", ctx, "claude-code", 100).Return(records, nil).Once()

		details := []model.RepositoryDetail{{FullName: "acme/alpha", Summary: "s", Category: model.CategoryTool}}
		enricher.On("Enrich", ctx, records, testDate).Return(details, nil).Once()

		storage.On("QueryPrevious", ctx, testDate, model.ModeTopic).Return(nil, nil).Once()
		storage.On("DetailsByName", ctx).Return(nil, nil).Once()
		storage.On("RecordSnapshot", ctx, testDate, model.ModeTopic, mock.Anything).Return(nil).Once()
		storage.On("AppendHistory", ctx, mock.Anything).Return(nil).Once()
		storage.On("UpsertDetails", ctx, details).Return(nil).Once()
		storage.On("PurgeOlderThan", ctx, testDate, 90).Return(int64(0), nil).Once()

		p := New(fetcher, nil, enricher, storage, testLogger(), testOptions())
		result, err := p.Run(ctx, testDate)

		require.NoError(t, err)
		require.Len(t, result.Entries, 2)
		assert.Equal(t, "s", result.Entries[0].Summary, "fresh details still annotate the result")
	})

	t.Run("rate limit aborts before any write", func(t *testing.T) {
		fetcher := new(MockFetcher)
		storage := new(MockStorage)

		fetcher.On("SearchByTopic", ctx, "claude-code", 100).
			Return(nil, &apperrors.RateLimitedError{ResetAt: testDate.Add(time.Hour)}).Once()

		p := New(fetcher, nil, nil, storage, testLogger(), testOptions())
		_, err := p.Run(ctx, testDate)

		require.Error(t, err)
		assert.True(t, apperrors.IsRateLimited(err))
		storage.AssertNotCalled(t, "RecordSnapshot", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		storage.AssertNotCalled(t, "PurgeOlderThan", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("empty degraded fetch never wipes an existing snapshot", func(t *testing.T) {
		fetcher := new(MockFetcher)
		storage := new(MockStorage)

		fetcher.On("SearchByTopic", ctx, "claude-code", 100).
			Return(nil, &apperrors.SourceUnavailableError{Source: "github-search", Err: assert.AnError}).Once()

		storage.On("QueryPrevious", ctx, testDate, model.ModeTopic).Return(nil, nil).Once()
		storage.On("DetailsByName", ctx).Return(map[string]model.RepositoryDetail{}, nil).Once()
		storage.On("PurgeOlderThan", ctx, testDate, 90).Return(int64(0), nil).Once()

		p := New(fetcher, nil, nil, storage, testLogger(), testOptions())
		result, err := p.Run(ctx, testDate)

		require.NoError(t, err, "a degraded run still completes")
		assert.Empty(t, result.Entries)
		storage.AssertNotCalled(t, "RecordSnapshot", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		storage.AssertNotCalled(t, "AppendHistory", mock.Anything, mock.Anything)
	})

	t.Run("trending mode falls back to the scrape", func(t *testing.T) {
		fetcher := new(MockFetcher)
		scraper := new(MockScraper)
		storage := new(MockStorage)

		opts := testOptions()
		opts.Mode = model.ModeTrending
		opts.Trending = github.TrendingQuery{Days: 7, MinStars: 50}

		fetcher.On("SearchTrending", ctx, opts.Trending, 100).
			Return(nil, &apperrors.SourceUnavailableError{Source: "github-search", Err: assert.AnError}).Once()
		scraper.On("FetchPeriod", ctx, model.PeriodDaily, 100).Return(fetchedRecords(), 1, nil).Once()

		storage.On("QueryPrevious", ctx, testDate, model.ModeTrending).Return(nil, nil).Once()
		storage.On("DetailsByName", ctx).Return(map[string]model.RepositoryDetail{}, nil).Once()

		var savedEntries []model.SnapshotEntry
		storage.On("RecordSnapshot", ctx, testDate, model.ModeTrending, mock.Anything).
			Run(func(args mock.Arguments) { savedEntries = args.Get(3).([]model.SnapshotEntry) }).
			Return(nil).Once()
		storage.On("AppendHistory", ctx, mock.Anything).Return(nil).Once()
		storage.On("PurgeOlderThan", ctx, testDate, 90).Return(int64(0), nil).Once()

		p := New(fetcher, scraper, nil, storage, testLogger(), opts)
		_, err := p.Run(ctx, testDate)

		require.NoError(t, err)
		require.Len(t, savedEntries, 2)
		assert.Equal(t, "acme/alpha", savedEntries[0].FullName)
		scraper.AssertExpectations(t)
	})

	t.Run("storage failure is fatal", func(t *testing.T) {
		fetcher := new(MockFetcher)
		storage := new(MockStorage)

		fetcher.On("SearchByTopic", ctx, "claude-code", 100).Return(fetchedRecords(), nil).Once()
		storage.On("QueryPrevious", ctx, testDate, model.ModeTopic).Return(nil, nil).Once()
		storage.On("DetailsByName", ctx).Return(map[string]model.RepositoryDetail{}, nil).Once()
		storage.On("RecordSnapshot", ctx, testDate, model.ModeTopic, mock.Anything).
			Return(&apperrors.StorageError{Op: "record_snapshot", Err: assert.AnError}).Once()

		p := New(fetcher, nil, nil, storage, testLogger(), testOptions())
		_, err := p.Run(ctx, testDate)

		require.Error(t, err)
		assert.True(t, apperrors.IsStorage(err))
		storage.AssertNotCalled(t, "PurgeOlderThan", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("fetch-only skips enrichment", func(t *testing.T) {
		fetcher := new(MockFetcher)
		enricher := new(MockEnricher)
		storage := new(MockStorage)

		opts := testOptions()
		opts.FetchOnly = true

		fetcher.On("SearchByTopic", ctx, "claude-code", 100).Return(fetchedRecords(), nil).Once()
		storage.On("QueryPrevious", ctx, testDate, model.ModeTopic).Return(nil, nil).Once()
		storage.On("DetailsByName", ctx).Return(map[string]model.RepositoryDetail{}, nil).Once()
		storage.On("RecordSnapshot", ctx, testDate, model.ModeTopic, mock.Anything).Return(nil).Once()
		storage.On("AppendHistory", ctx, mock.Anything).Return(nil).Once()
		storage.On("PurgeOlderThan", ctx, testDate, 90).Return(int64(0), nil).Once()

		p := New(fetcher, nil, enricher, storage, testLogger(), opts)
		_, err := p.Run(ctx, testDate)

		require.NoError(t, err)
		enricher.AssertNotCalled(t, "Enrich", mock.Anything, mock.Anything, mock.Anything)
		storage.AssertNotCalled(t, "UpsertDetails", mock.Anything, mock.Anything)
	})
}
