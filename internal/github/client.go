// internal/github/client.go
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	apperrors "github-trend-tracker/internal/errors"
	"github-trend-tracker/internal/model"
	"github-trend-tracker/internal/retry"
)

const (
	perPage = 100 // GitHub API max per page

	// The search API refuses to page past the first 1000 results. Hitting
	// that window returns a truncated-but-valid result, never an error.
	maxSearchResults = 1000
)

// TrendingQuery describes the search-based trending heuristic: repositories
// created within the last Days days with at least MinStars stars, optionally
// filtered by language.
type TrendingQuery struct {
	Days     int
	MinStars int
	Language string
}

// Client is a wrapper around the go-github client.
type Client struct {
	gh     *github.Client
	logger *slog.Logger
	retry  retry.Policy
	now    func() time.Time
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(token string, logger *slog.Logger) *Client {
	var tc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		tc = oauth2.NewClient(context.Background(), ts)
	}

	return &Client{
		gh:     github.NewClient(tc),
		logger: logger,
		retry:  retry.DefaultPolicy(),
		now:    time.Now,
	}
}

// SearchByTopic fetches repositories tagged with topic, ordered by total
// stars descending, up to limit records.
func (c *Client) SearchByTopic(ctx context.Context, topic string, limit int) ([]model.RepositoryRecord, error) {
	query := fmt.Sprintf("topic:%s", topic)
	return c.search(ctx, query, limit)
}

// SearchTrending fetches repositories matching the trending heuristic,
// ordered by total stars descending, up to limit records. The creation-date
// boundary day itself is excluded (created:>cutoff).
func (c *Client) SearchTrending(ctx context.Context, q TrendingQuery, limit int) ([]model.RepositoryRecord, error) {
	return c.search(ctx, c.trendingQuery(q), limit)
}

func (c *Client) trendingQuery(q TrendingQuery) string {
	cutoff := c.now().AddDate(0, 0, -q.Days).Format("2006-01-02")
	parts := []string{
		fmt.Sprintf("created:>%s", cutoff),
		fmt.Sprintf("stars:>=%d", q.MinStars),
	}
	if q.Language != "" {
		parts = append(parts, fmt.Sprintf("language:%s", q.Language))
	}
	return strings.Join(parts, " ")
}

// search pages through the search API collecting up to limit records. The
// result is re-sorted by (stars desc, full_name asc) so that rank assignment
// is deterministic regardless of remote tie ordering.
func (c *Client) search(ctx context.Context, query string, limit int) ([]model.RepositoryRecord, error) {
	opts := &github.SearchOptions{
		Sort:        "stars",
		Order:       "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var records []model.RepositoryRecord
	fetched := 0

	for {
		c.logger.Debug("Fetching search page", "query", query, "page", opts.Page)

		result, resp, err := c.searchPage(ctx, query, opts)
		if err != nil {
			if len(records) > 0 && apperrors.IsSourceUnavailable(err) {
				// A mid-pagination outage truncates rather than fails.
				c.logger.Warn("Search truncated by source failure", "collected", len(records), "error", err)
				break
			}
			return nil, err
		}

		for _, repo := range result.Repositories {
			records = append(records, toRecord(repo))
			if len(records) >= limit {
				break
			}
		}
		fetched += len(result.Repositories)

		if len(records) >= limit || resp.NextPage == 0 || fetched >= maxSearchResults {
			break
		}
		opts.Page = resp.NextPage
	}

	SortRecords(records)
	return records, nil
}

// searchPage fetches a single page under the retry policy. Rate-limit and
// client errors are permanent; transport and 5xx failures are retried and
// converted to SourceUnavailableError once the budget is spent.
func (c *Client) searchPage(ctx context.Context, query string, opts *github.SearchOptions) (*github.RepositoriesSearchResult, *github.Response, error) {
	var (
		result *github.RepositoriesSearchResult
		resp   *github.Response
	)

	err := c.retry.Do(ctx, func() error {
		var err error
		result, resp, err = c.gh.Search.Repositories(ctx, query, opts)
		if err == nil {
			return nil
		}
		return classify(err)
	})
	if err != nil {
		if apperrors.IsRateLimited(err) {
			return nil, nil, err
		}
		return nil, nil, &apperrors.SourceUnavailableError{Source: "github-search", Err: err}
	}
	return result, resp, nil
}

// classify translates go-github errors into the retry policy's vocabulary.
func classify(err error) error {
	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return retry.Permanent(&apperrors.RateLimitedError{
			ResetAt:   rle.Rate.Reset.Time,
			Remaining: rle.Rate.Remaining,
		})
	}
	var arle *github.AbuseRateLimitError
	if errors.As(err, &arle) {
		reset := time.Now()
		if arle.RetryAfter != nil {
			reset = reset.Add(*arle.RetryAfter)
		}
		return retry.Permanent(&apperrors.RateLimitedError{ResetAt: reset})
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode < http.StatusInternalServerError {
		return retry.Permanent(err)
	}
	return err
}

// GetReadmeExcerpt fetches a repository's README and reduces it to a plain
// text excerpt of at most maxLen characters. Missing READMEs are not an
// error; the excerpt is just empty.
func (c *Client) GetReadmeExcerpt(ctx context.Context, owner, name string, maxLen int) (string, error) {
	var content *github.RepositoryContent

	err := c.retry.Do(ctx, func() error {
		var err error
		content, _, err = c.gh.Repositories.GetReadme(ctx, owner, name, nil)
		if err == nil {
			return nil
		}
		return classify(err)
	})
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
			return "", nil
		}
		if apperrors.IsRateLimited(err) {
			return "", err
		}
		return "", &apperrors.SourceUnavailableError{Source: "github-readme", Err: err}
	}

	text, err := content.GetContent()
	if err != nil {
		return "", nil // undecodable content is treated as absent
	}
	return excerpt(text, maxLen), nil
}

// excerpt strips common markdown noise and truncates at a word boundary.
func excerpt(markdown string, maxLen int) string {
	var b strings.Builder
	inFence := false
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "```") {
			inFence = !inFence
			continue
		}
		if inFence || line == "" ||
			strings.HasPrefix(line, "![") || strings.HasPrefix(line, "<") {
			continue
		}
		line = strings.TrimLeft(line, "#>*- ")
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(line)
		if b.Len() >= maxLen {
			break
		}
	}
	s := b.String()
	// Truncate on a rune boundary so multi-byte text never yields invalid
	// UTF-8, preferring the last word boundary before the cut.
	if runes := []rune(s); len(runes) > maxLen {
		cut := string(runes[:maxLen])
		if i := strings.LastIndex(cut, " "); i > 0 {
			cut = cut[:i]
		}
		s = cut + "..."
	}
	return s
}

// SortRecords orders records by stars descending, breaking ties on full_name
// ascending, so two fetches of identical remote state rank identically.
func SortRecords(records []model.RepositoryRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Stars != records[j].Stars {
			return records[i].Stars > records[j].Stars
		}
		return records[i].FullName < records[j].FullName
	})
}

// toRecord translates a github.Repository object to our internal model.
func toRecord(r *github.Repository) model.RepositoryRecord {
	return model.RepositoryRecord{
		Owner:       r.GetOwner().GetLogin(),
		Name:        r.GetName(),
		FullName:    r.GetFullName(),
		Stars:       r.GetStargazersCount(),
		Forks:       r.GetForksCount(),
		OpenIssues:  r.GetOpenIssuesCount(),
		Language:    r.GetLanguage(),
		Description: r.GetDescription(),
		Topics:      r.Topics,
		URL:         r.GetHTMLURL(),
		CreatedAt:   r.GetCreatedAt().Time,
		UpdatedAt:   r.GetUpdatedAt().Time,
	}
}
