// internal/model/models.go
package model

import "time"

// Mode selects the ingestion strategy for a run.
type Mode string

const (
	ModeTopic    Mode = "topic"
	ModeTrending Mode = "trending"
)

// ParseMode coerces a raw config string into a Mode, defaulting to topic.
func ParseMode(s string) Mode {
	if Mode(s) == ModeTrending {
		return ModeTrending
	}
	return ModeTopic
}

// Period is a trending-page time window.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// AllPeriods lists the windows fetched by FetchAllPeriods, in order.
var AllPeriods = []Period{PeriodDaily, PeriodWeekly, PeriodMonthly}

// Category is the closed classification enumeration. Raw strings from the
// summarizer are coerced through ParseCategory at the ingestion boundary so
// nothing downstream ever sees an unrecognized value.
type Category string

const (
	CategoryPlugin      Category = "plugin"
	CategoryTool        Category = "tool"
	CategoryTemplate    Category = "template"
	CategoryDocs        Category = "docs"
	CategoryDemo        Category = "demo"
	CategoryIntegration Category = "integration"
	CategoryLibrary     Category = "library"
	CategoryApp         Category = "app"
	CategoryOther       Category = "other"
)

var validCategories = map[Category]struct{}{
	CategoryPlugin:      {},
	CategoryTool:        {},
	CategoryTemplate:    {},
	CategoryDocs:        {},
	CategoryDemo:        {},
	CategoryIntegration: {},
	CategoryLibrary:     {},
	CategoryApp:         {},
	CategoryOther:       {},
}

// ParseCategory coerces a raw string into a Category, defaulting to other.
func ParseCategory(s string) Category {
	if _, ok := validCategories[Category(s)]; ok {
		return Category(s)
	}
	return CategoryOther
}

// RepositoryRecord is one fetched observation of a repository. Produced fresh
// on every fetch and immutable once captured.
type RepositoryRecord struct {
	Owner         string    `json:"owner"`
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	Stars         int       `json:"stars"`
	Forks         int       `json:"forks"`
	OpenIssues    int       `json:"open_issues"`
	Language      string    `json:"language,omitempty"`
	Description   string    `json:"description,omitempty"`
	Topics        []string  `json:"topics,omitempty"`
	URL           string    `json:"url"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	ReadmeExcerpt string    `json:"-"`

	// TrendingStars is the star gain within a scrape window, 0 when the page
	// did not expose a parseable value. Only set by the period scraper.
	TrendingStars int `json:"trending_stars,omitempty"`
}

// SnapshotEntry is one row of a daily ranking. (Date, Mode, FullName) is
// unique per run and Rank is a dense 1-based ordering.
type SnapshotEntry struct {
	Date       time.Time `json:"date"`
	Mode       Mode      `json:"mode"`
	Rank       int       `json:"rank"`
	FullName   string    `json:"full_name"`
	Owner      string    `json:"owner"`
	Stars      int       `json:"stars"`
	StarsDelta int       `json:"stars_delta"`
	Forks      int       `json:"forks"`
	Language   string    `json:"language,omitempty"`
	URL        string    `json:"url"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RepositoryDetail is the slowly-changing enrichment record for a repository,
// keyed by FullName and independent of any single date's ranking.
type RepositoryDetail struct {
	FullName      string    `json:"full_name"`
	Owner         string    `json:"owner"`
	URL           string    `json:"url"`
	Summary       string    `json:"summary"`
	Description   string    `json:"description,omitempty"`
	UseCase       string    `json:"use_case,omitempty"`
	Category      Category  `json:"category"`
	ProblemTags   []string  `json:"problem_tags,omitempty"`
	Language      string    `json:"language,omitempty"`
	Fallback      bool      `json:"fallback,omitempty"`
	FirstSeenDate time.Time `json:"first_seen_date"`
	LastSeenDate  time.Time `json:"last_seen_date"`
}

// HistoryPoint is one append-only time-series observation.
type HistoryPoint struct {
	FullName string    `json:"full_name"`
	Date     time.Time `json:"date"`
	Rank     int       `json:"rank"`
	Stars    int       `json:"stars"`
	Forks    int       `json:"forks"`
}

// TrendEntry is a snapshot entry annotated by the trend engine.
type TrendEntry struct {
	SnapshotEntry
	IsNew     bool     `json:"is_new"`
	StarsRate float64  `json:"stars_rate"`
	Summary   string   `json:"summary,omitempty"`
	Category  Category `json:"category,omitempty"`
}

// Dropout is a repository that was ranked in the previous snapshot but is
// absent from today's.
type Dropout struct {
	FullName     string `json:"full_name"`
	PreviousRank int    `json:"previous_rank"`
	Stars        int    `json:"stars"`
	URL          string `json:"url"`
}

// TrendSummary holds the aggregate counters for one analyzed day.
type TrendSummary struct {
	TotalRepos     int              `json:"total_repos"`
	NewcomerCount  int              `json:"newcomer_count"`
	DropoutCount   int              `json:"dropout_count"`
	SurgeCount     int              `json:"surge_count"`
	CategoryCounts map[Category]int `json:"category_counts"`
	LanguageCounts map[string]int   `json:"language_counts"`
	MeanDelta      float64          `json:"mean_delta"`
	MedianDelta    float64          `json:"median_delta"`
}

// TrendResult is the derived output of one analysis run. It is handed to the
// report and site generators and is never persisted as a whole.
type TrendResult struct {
	Date      time.Time    `json:"date"`
	Mode      Mode         `json:"mode"`
	Entries   []TrendEntry `json:"entries"`
	Newcomers []TrendEntry `json:"newcomers"`
	Dropouts  []Dropout    `json:"dropouts"`
	TopRisers []TrendEntry `json:"top_risers"`
	Surges    []TrendEntry `json:"surges"`
	Active    []TrendEntry `json:"active"`
	Summary   TrendSummary `json:"summary"`
}
