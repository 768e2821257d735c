// internal/store/store.go
package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github-trend-tracker/internal/errors"
	"github-trend-tracker/internal/model"
)

// Store persists daily snapshots, the cumulative detail dimension and the
// star history in Postgres. One writer per run; all failures surface as
// StorageError because downstream trend computation depends on complete
// writes.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store on top of an established connection pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// CategoryStat is one row of the per-date category distribution.
type CategoryStat struct {
	Category model.Category `json:"category"`
	Count    int            `json:"count"`
}

// LanguageStat is one row of the per-date language distribution.
type LanguageStat struct {
	Language string  `json:"language"`
	Count    int     `json:"count"`
	AvgStars float64 `json:"avg_stars"`
}

// RecordSnapshot replaces the snapshot for (date, mode) transactionally:
// existing rows for that partition are deleted and the new entries inserted,
// or nothing changes at all. Re-running the same date is therefore
// idempotent.
func (s *Store) RecordSnapshot(ctx context.Context, date time.Time, mode model.Mode, entries []model.SnapshotEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &apperrors.StorageError{Op: "record_snapshot", Err: err}
	}
	defer tx.Rollback(ctx) // no-op once committed

	if _, err := tx.Exec(ctx,
		`DELETE FROM repos_daily WHERE date = $1 AND mode = $2`,
		date, string(mode),
	); err != nil {
		return &apperrors.StorageError{Op: "record_snapshot", Err: err}
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO repos_daily
				(date, mode, rank, full_name, owner, stars, stars_delta, forks, language, url, repo_updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			date, string(mode), e.Rank, e.FullName, e.Owner, e.Stars,
			e.StarsDelta, e.Forks, e.Language, e.URL, nullableTime(e.UpdatedAt),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return &apperrors.StorageError{Op: "record_snapshot", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &apperrors.StorageError{Op: "record_snapshot", Err: err}
	}

	s.logger.Info("Recorded snapshot", "date", date.Format(time.DateOnly), "mode", mode, "entries", len(entries))
	return nil
}

// UpsertDetails inserts or refreshes detail rows. first_seen_date is set on
// first insert only; last_seen_date always advances to the given row's value.
func (s *Store) UpsertDetails(ctx context.Context, details []model.RepositoryDetail) error {
	batch := &pgx.Batch{}
	for _, d := range details {
		batch.Queue(`
			INSERT INTO repos_details
				(full_name, owner, url, summary, description, use_case, category,
				 problem_tags, language, is_fallback, first_seen_date, last_seen_date, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
			ON CONFLICT (full_name) DO UPDATE SET
				owner = EXCLUDED.owner,
				url = EXCLUDED.url,
				summary = EXCLUDED.summary,
				description = EXCLUDED.description,
				use_case = EXCLUDED.use_case,
				category = EXCLUDED.category,
				problem_tags = EXCLUDED.problem_tags,
				language = EXCLUDED.language,
				is_fallback = EXCLUDED.is_fallback,
				last_seen_date = EXCLUDED.last_seen_date,
				updated_at = now()`,
			d.FullName, d.Owner, d.URL, d.Summary, d.Description, d.UseCase,
			string(d.Category), tags(d.ProblemTags), d.Language, d.Fallback,
			d.FirstSeenDate, d.LastSeenDate,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return &apperrors.StorageError{Op: "upsert_details", Err: err}
	}
	return nil
}

// AppendHistory records one observation per repository for the date.
// Re-running a date overwrites that date's points instead of duplicating.
func (s *Store) AppendHistory(ctx context.Context, points []model.HistoryPoint) error {
	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(`
			INSERT INTO repos_history (full_name, date, rank, stars, forks)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (full_name, date) DO UPDATE SET
				rank = EXCLUDED.rank,
				stars = EXCLUDED.stars,
				forks = EXCLUDED.forks`,
			p.FullName, p.Date, p.Rank, p.Stars, p.Forks,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return &apperrors.StorageError{Op: "append_history", Err: err}
	}
	return nil
}

// QueryPrevious returns the snapshot for the nearest date before the given
// one that has rows for the same mode, tolerating skipped days. An empty
// slice means no prior snapshot exists.
func (s *Store) QueryPrevious(ctx context.Context, date time.Time, mode model.Mode) ([]model.SnapshotEntry, error) {
	var prev *time.Time // MAX over zero rows yields NULL
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(date) FROM repos_daily WHERE mode = $1 AND date < $2`,
		string(mode), date,
	).Scan(&prev)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, &apperrors.StorageError{Op: "query_previous", Err: err}
	}
	if prev == nil {
		return nil, nil
	}
	return s.QuerySnapshot(ctx, *prev, mode)
}

// QuerySnapshot returns the snapshot rows for (date, mode) ordered by rank.
func (s *Store) QuerySnapshot(ctx context.Context, date time.Time, mode model.Mode) ([]model.SnapshotEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT date, mode, rank, full_name, owner, stars, stars_delta, forks, language, url, repo_updated_at
		FROM repos_daily
		WHERE date = $1 AND mode = $2
		ORDER BY rank`,
		date, string(mode),
	)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "query_snapshot", Err: err}
	}
	defer rows.Close()

	var entries []model.SnapshotEntry
	for rows.Next() {
		var (
			e         model.SnapshotEntry
			mode      string
			updatedAt *time.Time
		)
		if err := rows.Scan(&e.Date, &mode, &e.Rank, &e.FullName, &e.Owner,
			&e.Stars, &e.StarsDelta, &e.Forks, &e.Language, &e.URL, &updatedAt); err != nil {
			return nil, &apperrors.StorageError{Op: "query_snapshot", Err: err}
		}
		e.Mode = model.Mode(mode)
		if updatedAt != nil {
			e.UpdatedAt = *updatedAt
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperrors.StorageError{Op: "query_snapshot", Err: err}
	}
	return entries, nil
}

// DetailsByName returns every detail row keyed by full_name.
func (s *Store) DetailsByName(ctx context.Context) (map[string]model.RepositoryDetail, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT full_name, owner, url, summary, description, use_case, category,
		       problem_tags, language, is_fallback, first_seen_date, last_seen_date
		FROM repos_details`)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "details_by_name", Err: err}
	}
	defer rows.Close()

	details := make(map[string]model.RepositoryDetail)
	for rows.Next() {
		var (
			d        model.RepositoryDetail
			category string
		)
		if err := rows.Scan(&d.FullName, &d.Owner, &d.URL, &d.Summary, &d.Description,
			&d.UseCase, &category, &d.ProblemTags, &d.Language, &d.Fallback,
			&d.FirstSeenDate, &d.LastSeenDate); err != nil {
			return nil, &apperrors.StorageError{Op: "details_by_name", Err: err}
		}
		d.Category = model.ParseCategory(category)
		details[d.FullName] = d
	}
	if err := rows.Err(); err != nil {
		return nil, &apperrors.StorageError{Op: "details_by_name", Err: err}
	}
	return details, nil
}

// CategoryStats returns the category distribution of one snapshot. Rows with
// no detail record count as "other".
func (s *Store) CategoryStats(ctx context.Context, date time.Time, mode model.Mode) ([]CategoryStat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT COALESCE(d.category, 'other') AS category, COUNT(*) AS count
		FROM repos_daily r
		LEFT JOIN repos_details d ON r.full_name = d.full_name
		WHERE r.date = $1 AND r.mode = $2
		GROUP BY COALESCE(d.category, 'other')
		ORDER BY count DESC, category`,
		date, string(mode),
	)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "category_stats", Err: err}
	}
	defer rows.Close()

	var stats []CategoryStat
	for rows.Next() {
		var (
			category string
			count    int
		)
		if err := rows.Scan(&category, &count); err != nil {
			return nil, &apperrors.StorageError{Op: "category_stats", Err: err}
		}
		stats = append(stats, CategoryStat{Category: model.ParseCategory(category), Count: count})
	}
	return stats, rows.Err()
}

// LanguageStats returns the language distribution of one snapshot, skipping
// rows without a detected language.
func (s *Store) LanguageStats(ctx context.Context, date time.Time, mode model.Mode, limit int) ([]LanguageStat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT language, COUNT(*) AS count, AVG(stars) AS avg_stars
		FROM repos_daily
		WHERE date = $1 AND mode = $2 AND language <> ''
		GROUP BY language
		ORDER BY count DESC, language
		LIMIT $3`,
		date, string(mode), limit,
	)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "language_stats", Err: err}
	}
	defer rows.Close()

	var stats []LanguageStat
	for rows.Next() {
		var st LanguageStat
		if err := rows.Scan(&st.Language, &st.Count, &st.AvgStars); err != nil {
			return nil, &apperrors.StorageError{Op: "language_stats", Err: err}
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// RepoHistory returns a repository's history points for the last N days,
// oldest first.
func (s *Store) RepoHistory(ctx context.Context, fullName string, ref time.Time, days int) ([]model.HistoryPoint, error) {
	cutoff := ref.AddDate(0, 0, -days)
	rows, err := s.pool.Query(ctx, `
		SELECT full_name, date, rank, stars, forks
		FROM repos_history
		WHERE full_name = $1 AND date >= $2
		ORDER BY date ASC`,
		fullName, cutoff,
	)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "repo_history", Err: err}
	}
	defer rows.Close()

	var points []model.HistoryPoint
	for rows.Next() {
		var p model.HistoryPoint
		if err := rows.Scan(&p.FullName, &p.Date, &p.Rank, &p.Stars, &p.Forks); err != nil {
			return nil, &apperrors.StorageError{Op: "repo_history", Err: err}
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// AvailableDates returns the distinct snapshot dates for a mode, newest
// first.
func (s *Store) AvailableDates(ctx context.Context, mode model.Mode, limit int) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT date FROM repos_daily
		WHERE mode = $1
		ORDER BY date DESC
		LIMIT $2`,
		string(mode), limit,
	)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "available_dates", Err: err}
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, &apperrors.StorageError{Op: "available_dates", Err: err}
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// PurgeOlderThan deletes snapshot and history rows older than the retention
// window relative to ref. Detail rows are cumulative and never purged.
func (s *Store) PurgeOlderThan(ctx context.Context, ref time.Time, retentionDays int) (int64, error) {
	cutoff := ref.AddDate(0, 0, -retentionDays)

	daily, err := s.pool.Exec(ctx, `DELETE FROM repos_daily WHERE date < $1`, cutoff)
	if err != nil {
		return 0, &apperrors.StorageError{Op: "purge", Err: err}
	}
	history, err := s.pool.Exec(ctx, `DELETE FROM repos_history WHERE date < $1`, cutoff)
	if err != nil {
		return 0, &apperrors.StorageError{Op: "purge", Err: err}
	}

	deleted := daily.RowsAffected() + history.RowsAffected()
	if deleted > 0 {
		s.logger.Info("Purged expired rows", "deleted", deleted, "cutoff", cutoff.Format(time.DateOnly))
	}
	return deleted, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func tags(t []string) []string {
	if t == nil {
		return []string{}
	}
	return t
}
