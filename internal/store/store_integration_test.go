//go:build integration

// internal/store/store_integration_test.go
package store

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github-trend-tracker/internal/model"
)

func setupTestDatabase(ctx context.Context, t *testing.T) (*pgxpool.Pool, func()) {
	// Start a postgres container
	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Run migrations
	m, err := migrate.New("file://../../migrations", connStr)
	require.NoError(t, err)
	err = m.Up()
	require.NoError(t, err)

	dbpool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	teardown := func() {
		dbpool.Close()
		err := pgContainer.Terminate(ctx)
		require.NoError(t, err)
	}

	return dbpool, teardown
}

func testStore(pool *pgxpool.Pool) *Store {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(pool, logger)
}

func day(d int) time.Time {
	return time.Date(2026, 8, d, 0, 0, 0, 0, time.UTC)
}

func entry(date time.Time, rank int, fullName string, stars int) model.SnapshotEntry {
	return model.SnapshotEntry{
		Date:     date,
		Mode:     model.ModeTopic,
		Rank:     rank,
		FullName: fullName,
		Owner:    "acme",
		Stars:    stars,
		Forks:    1,
		Language: "Go",
		URL:      "https://github.com/" + fullName,
	}
}

func TestStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pool, teardown := setupTestDatabase(ctx, t)
	defer teardown()
	s := testStore(pool)

	t.Run("snapshot replace is idempotent", func(t *testing.T) {
		date := day(1)
		err := s.RecordSnapshot(ctx, date, model.ModeTopic, []model.SnapshotEntry{
			entry(date, 1, "acme/alpha", 100),
			entry(date, 2, "acme/beta", 50),
		})
		require.NoError(t, err)

		// Re-record the same partition with fewer rows: the old ones must go.
		err = s.RecordSnapshot(ctx, date, model.ModeTopic, []model.SnapshotEntry{
			entry(date, 1, "acme/alpha", 101),
		})
		require.NoError(t, err)

		got, err := s.QuerySnapshot(ctx, date, model.ModeTopic)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "acme/alpha", got[0].FullName)
		assert.Equal(t, 101, got[0].Stars)
	})

	t.Run("modes partition independently", func(t *testing.T) {
		date := day(2)
		require.NoError(t, s.RecordSnapshot(ctx, date, model.ModeTopic, []model.SnapshotEntry{
			entry(date, 1, "acme/topical", 10),
		}))
		trendEntry := entry(date, 1, "acme/hot", 20)
		trendEntry.Mode = model.ModeTrending
		require.NoError(t, s.RecordSnapshot(ctx, date, model.ModeTrending, []model.SnapshotEntry{trendEntry}))

		topical, err := s.QuerySnapshot(ctx, date, model.ModeTopic)
		require.NoError(t, err)
		require.Len(t, topical, 1)
		assert.Equal(t, "acme/topical", topical[0].FullName)

		hot, err := s.QuerySnapshot(ctx, date, model.ModeTrending)
		require.NoError(t, err)
		require.Len(t, hot, 1)
		assert.Equal(t, "acme/hot", hot[0].FullName)
	})

	t.Run("query previous tolerates gaps", func(t *testing.T) {
		// Snapshots exist for day 1 and day 2; day 3 and 4 were skipped.
		prev, err := s.QueryPrevious(ctx, day(5), model.ModeTopic)
		require.NoError(t, err)
		require.NotEmpty(t, prev)
		assert.Equal(t, "2026-08-02", prev[0].Date.Format(time.DateOnly))

		none, err := s.QueryPrevious(ctx, day(1), model.ModeTopic)
		require.NoError(t, err)
		assert.Empty(t, none, "nothing precedes the first snapshot")
	})

	t.Run("details upsert preserves first_seen_date", func(t *testing.T) {
		first := model.RepositoryDetail{
			FullName:      "acme/alpha",
			Owner:         "acme",
			URL:           "https://github.com/acme/alpha",
			Summary:       "first summary",
			Category:      model.CategoryTool,
			ProblemTags:   []string{"x"},
			Language:      "Go",
			FirstSeenDate: day(1),
			LastSeenDate:  day(1),
		}
		require.NoError(t, s.UpsertDetails(ctx, []model.RepositoryDetail{first}))

		second := first
		second.Summary = "fresher summary"
		second.Fallback = true
		second.FirstSeenDate = day(9)
		second.LastSeenDate = day(9)
		require.NoError(t, s.UpsertDetails(ctx, []model.RepositoryDetail{second}))

		details, err := s.DetailsByName(ctx)
		require.NoError(t, err)
		got, ok := details["acme/alpha"]
		require.True(t, ok)
		assert.Equal(t, "fresher summary", got.Summary)
		assert.True(t, got.Fallback)
		assert.Equal(t, "2026-08-01", got.FirstSeenDate.Format(time.DateOnly), "first_seen_date never moves")
		assert.Equal(t, "2026-08-09", got.LastSeenDate.Format(time.DateOnly))
	})

	t.Run("history upserts per date and windows reads", func(t *testing.T) {
		points := []model.HistoryPoint{
			{FullName: "acme/alpha", Date: day(1), Rank: 1, Stars: 100, Forks: 1},
			{FullName: "acme/alpha", Date: day(2), Rank: 1, Stars: 110, Forks: 1},
		}
		require.NoError(t, s.AppendHistory(ctx, points))

		// Re-running day 2 overwrites rather than duplicates.
		require.NoError(t, s.AppendHistory(ctx, []model.HistoryPoint{
			{FullName: "acme/alpha", Date: day(2), Rank: 2, Stars: 111, Forks: 1},
		}))

		history, err := s.RepoHistory(ctx, "acme/alpha", day(5), 30)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, 100, history[0].Stars, "oldest first")
		assert.Equal(t, 111, history[1].Stars)
		assert.Equal(t, 2, history[1].Rank)

		narrow, err := s.RepoHistory(ctx, "acme/alpha", day(5), 3)
		require.NoError(t, err)
		require.Len(t, narrow, 1)
		assert.Equal(t, 111, narrow[0].Stars)
	})

	t.Run("category and language stats", func(t *testing.T) {
		date := day(6)
		require.NoError(t, s.RecordSnapshot(ctx, date, model.ModeTopic, []model.SnapshotEntry{
			entry(date, 1, "acme/alpha", 100),
			entry(date, 2, "acme/unknown", 40),
		}))

		categories, err := s.CategoryStats(ctx, date, model.ModeTopic)
		require.NoError(t, err)
		counts := map[model.Category]int{}
		for _, c := range categories {
			counts[c.Category] = c.Count
		}
		assert.Equal(t, 1, counts[model.CategoryTool])
		assert.Equal(t, 1, counts[model.CategoryOther], "rows without details count as other")

		languages, err := s.LanguageStats(ctx, date, model.ModeTopic, 10)
		require.NoError(t, err)
		require.Len(t, languages, 1)
		assert.Equal(t, "Go", languages[0].Language)
		assert.Equal(t, 2, languages[0].Count)
		assert.InDelta(t, 70.0, languages[0].AvgStars, 0.01)
	})

	t.Run("available dates are newest first", func(t *testing.T) {
		dates, err := s.AvailableDates(ctx, model.ModeTopic, 10)
		require.NoError(t, err)
		require.NotEmpty(t, dates)
		for i := 1; i < len(dates); i++ {
			assert.True(t, dates[i].Before(dates[i-1]))
		}
	})

	t.Run("purge drops old rows but keeps details", func(t *testing.T) {
		deleted, err := s.PurgeOlderThan(ctx, day(10), 5)
		require.NoError(t, err)
		assert.Greater(t, deleted, int64(0))

		old, err := s.QuerySnapshot(ctx, day(1), model.ModeTopic)
		require.NoError(t, err)
		assert.Empty(t, old)

		kept, err := s.QuerySnapshot(ctx, day(6), model.ModeTopic)
		require.NoError(t, err)
		assert.NotEmpty(t, kept)

		details, err := s.DetailsByName(ctx)
		require.NoError(t, err)
		assert.Contains(t, details, "acme/alpha", "details are cumulative and survive the purge")
	})
}
