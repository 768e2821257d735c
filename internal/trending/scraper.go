// internal/trending/scraper.go
package trending

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	apperrors "github-trend-tracker/internal/errors"
	"github-trend-tracker/internal/model"
	"github-trend-tracker/internal/retry"
)

const defaultBaseURL = "https://github.com/trending"

// Scraper fetches the public Trending page for the daily/weekly/monthly
// windows. It is the fallback path when the search-based heuristic is
// unavailable, and the only source of "official" window rankings.
type Scraper struct {
	httpClient *http.Client
	baseURL    string
	language   string
	logger     *slog.Logger
	retry      retry.Policy
}

// NewScraper creates a Scraper. An empty language scrapes all languages.
func NewScraper(language string, logger *slog.Logger) *Scraper {
	return &Scraper{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		language:   language,
		logger:     logger,
		retry:      retry.DefaultPolicy(),
	}
}

// FetchPeriod scrapes the page for one window and returns up to limit
// records in page order, plus the count of rows dropped by partial parse
// failures. A page that yields no parseable rows returns an empty slice and
// a warning log, not an error.
func (s *Scraper) FetchPeriod(ctx context.Context, period model.Period, limit int) ([]model.RepositoryRecord, int, error) {
	url := s.baseURL
	if s.language != "" {
		url += "/" + strings.ToLower(s.language)
	}
	url += "?since=" + string(period)

	var body *html.Node
	err := s.retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("User-Agent", "github-trend-tracker/1.0")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("trending page returned status %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return retry.Permanent(err)
			}
			return err
		}

		body, err = html.Parse(resp.Body)
		return err
	})
	if err != nil {
		return nil, 0, &apperrors.SourceUnavailableError{Source: "trending-page", Err: err}
	}

	records, skipped := parseTrendingPage(body, limit)
	if len(records) == 0 {
		s.logger.Warn("Trending page yielded no parseable rows", "period", period, "skipped", skipped)
	}
	if skipped > 0 {
		s.logger.Warn("Dropped unparseable trending rows", "period", period, "skipped", skipped)
	}
	return records, skipped, nil
}

// FetchAllPeriods fetches the three windows independently; a failure in one
// never blocks the others, it just leaves that window empty.
func (s *Scraper) FetchAllPeriods(ctx context.Context, limit int) map[model.Period][]model.RepositoryRecord {
	results := make(map[model.Period][]model.RepositoryRecord, len(model.AllPeriods))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, period := range model.AllPeriods {
		g.Go(func() error {
			records, _, err := s.FetchPeriod(gctx, period, limit)
			if err != nil {
				s.logger.Error("Failed to fetch trending period", "period", period, "error", err)
				records = nil
			}
			mu.Lock()
			results[period] = records
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // goroutines only report via the results map

	return results
}

// parseTrendingPage extracts repository rows from a parsed Trending page.
// Malformed rows are dropped and counted rather than aborting the fetch.
func parseTrendingPage(doc *html.Node, limit int) ([]model.RepositoryRecord, int) {
	articles := findAll(doc, func(n *html.Node) bool {
		return n.Data == "article" && hasClass(n, "Box-row")
	})

	var records []model.RepositoryRecord
	skipped := 0
	for _, article := range articles {
		if len(records) >= limit {
			break
		}
		rec, ok := parseRow(article)
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped
}

func parseRow(article *html.Node) (model.RepositoryRecord, bool) {
	var rec model.RepositoryRecord

	// The h2 heading links to /owner/name.
	h2 := findFirst(article, func(n *html.Node) bool { return n.Data == "h2" })
	if h2 == nil {
		return rec, false
	}
	link := findFirst(h2, func(n *html.Node) bool { return n.Data == "a" })
	if link == nil {
		return rec, false
	}
	fullName := strings.Trim(attr(link, "href"), "/")
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" {
		return rec, false
	}

	rec.Owner = owner
	rec.Name = name
	rec.FullName = fullName
	rec.URL = "https://github.com/" + fullName

	if p := findFirst(article, func(n *html.Node) bool { return n.Data == "p" }); p != nil {
		rec.Description = strings.TrimSpace(text(p))
	}
	if lang := findFirst(article, func(n *html.Node) bool {
		return n.Data == "span" && attr(n, "itemprop") == "programmingLanguage"
	}); lang != nil {
		rec.Language = strings.TrimSpace(text(lang))
	}

	for _, a := range findAll(article, func(n *html.Node) bool { return n.Data == "a" }) {
		href := attr(a, "href")
		switch {
		case strings.HasSuffix(href, "/stargazers"):
			rec.Stars = parseCount(text(a))
		case strings.HasSuffix(href, "/forks"):
			rec.Forks = parseCount(text(a))
		}
	}

	// "123 stars today" (or "this week"/"this month"); best-effort, 0 when absent.
	if span := findFirst(article, func(n *html.Node) bool {
		return n.Data == "span" && strings.Contains(text(n), "stars ")
	}); span != nil {
		rec.TrendingStars = parseCount(text(span))
	}

	return rec, true
}

var countRe = regexp.MustCompile(`([\d,.]+)\s*([km])?`)

// parseCount parses "1,234", "1.5k" and "2m" style figures, returning 0 for
// anything unparseable.
func parseCount(s string) int {
	m := countRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0
	}
	num, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0
	}
	switch m[2] {
	case "k":
		num *= 1000
	case "m":
		num *= 1000000
	}
	return int(num)
}

func findAll(n *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && pred(node) {
			out = append(out, node)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func findFirst(n *html.Node, pred func(*html.Node) bool) *html.Node {
	if all := findAll(n, pred); len(all) > 0 {
		return all[0]
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
