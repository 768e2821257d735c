// internal/trend/engine.go
package trend

import (
	"sort"
	"time"

	"github-trend-tracker/internal/model"
)

// LanguageNone is the histogram bucket for entries without a detected
// language, kept separate from real language names.
const LanguageNone = "(none)"

// maxActive caps the recently-updated list.
const maxActive = 10

// Config holds the thresholds the engine applies. Zero values are replaced
// by the documented defaults.
type Config struct {
	SurgeThreshold   float64
	TopRisers        int
	ActiveWindowDays int
}

func (c Config) withDefaults() Config {
	if c.SurgeThreshold == 0 {
		c.SurgeThreshold = 0.3
	}
	if c.TopRisers == 0 {
		c.TopRisers = 5
	}
	if c.ActiveWindowDays == 0 {
		c.ActiveWindowDays = 7
	}
	return c
}

// Analyze derives the day's trend signals from today's snapshot and the most
// recent prior one. It is pure: identical inputs yield an identical result,
// and it never touches storage or the clock beyond the passed-in date.
//
// today must be ordered by rank; previous may be empty (first-ever run) in
// which case every entry is a newcomer and no risers, surges or dropouts are
// produced.
func Analyze(date time.Time, mode model.Mode, today, previous []model.SnapshotEntry, details map[string]model.RepositoryDetail, cfg Config) model.TrendResult {
	cfg = cfg.withDefaults()

	prevByName := make(map[string]model.SnapshotEntry, len(previous))
	for _, p := range previous {
		prevByName[p.FullName] = p
	}
	firstRun := len(previous) == 0

	result := model.TrendResult{Date: date, Mode: mode}
	result.Summary.CategoryCounts = make(map[model.Category]int)
	result.Summary.LanguageCounts = make(map[string]int)

	var nonNewDeltas []int
	for _, e := range today {
		entry := model.TrendEntry{SnapshotEntry: e}

		prev, seen := prevByName[e.FullName]
		if seen {
			entry.StarsDelta = e.Stars - prev.Stars
			entry.StarsRate = float64(entry.StarsDelta) / float64(max(prev.Stars, 1))
		} else {
			// A newcomer's growth is its full star count: no prior baseline.
			entry.IsNew = true
			entry.StarsDelta = e.Stars
			entry.StarsRate = float64(e.Stars)
		}

		if d, ok := details[e.FullName]; ok {
			entry.Summary = d.Summary
			entry.Category = d.Category
		} else {
			entry.Category = model.CategoryOther
		}

		result.Entries = append(result.Entries, entry)

		if entry.IsNew {
			result.Newcomers = append(result.Newcomers, entry)
		} else {
			nonNewDeltas = append(nonNewDeltas, entry.StarsDelta)
			if entry.StarsRate >= cfg.SurgeThreshold {
				result.Surges = append(result.Surges, entry)
				result.Summary.SurgeCount++
			}
		}

		result.Summary.CategoryCounts[entry.Category]++
		lang := e.Language
		if lang == "" {
			lang = LanguageNone
		}
		result.Summary.LanguageCounts[lang]++
	}

	if len(today) == 0 {
		// An empty snapshot means the source gave us nothing to compare;
		// reporting the whole previous snapshot as dropouts would be noise.
		return result
	}

	if firstRun {
		// No baseline: nothing rises, surges or drops out.
		result.Surges = nil
		result.Summary.SurgeCount = 0
	} else {
		// Newcomers satisfy the surge ratio whenever stars clear the
		// threshold, but they are counted as newcomers, not surges, in the
		// summary.
		for _, entry := range result.Newcomers {
			if entry.StarsRate >= cfg.SurgeThreshold {
				result.Surges = append(result.Surges, entry)
			}
		}
		sort.SliceStable(result.Surges, func(i, j int) bool {
			return result.Surges[i].Rank < result.Surges[j].Rank
		})

		result.Dropouts = dropouts(today, previous)
		result.TopRisers = topRisers(result.Entries, cfg.TopRisers)
	}

	result.Active = active(result.Entries, date, cfg.ActiveWindowDays)

	result.Summary.TotalRepos = len(today)
	result.Summary.NewcomerCount = len(result.Newcomers)
	result.Summary.DropoutCount = len(result.Dropouts)
	result.Summary.MeanDelta = mean(nonNewDeltas)
	result.Summary.MedianDelta = median(nonNewDeltas)

	return result
}

// dropouts lists previous entries absent from today, by previous rank.
func dropouts(today, previous []model.SnapshotEntry) []model.Dropout {
	todayNames := make(map[string]struct{}, len(today))
	for _, e := range today {
		todayNames[e.FullName] = struct{}{}
	}

	var out []model.Dropout
	for _, p := range previous {
		if _, ok := todayNames[p.FullName]; ok {
			continue
		}
		out = append(out, model.Dropout{
			FullName:     p.FullName,
			PreviousRank: p.Rank,
			Stars:        p.Stars,
			URL:          p.URL,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PreviousRank < out[j].PreviousRank
	})
	return out
}

// topRisers returns the k non-new entries with the largest positive delta,
// ties broken by full_name ascending.
func topRisers(entries []model.TrendEntry, k int) []model.TrendEntry {
	var risers []model.TrendEntry
	for _, e := range entries {
		if !e.IsNew && e.StarsDelta > 0 {
			risers = append(risers, e)
		}
	}
	sort.SliceStable(risers, func(i, j int) bool {
		if risers[i].StarsDelta != risers[j].StarsDelta {
			return risers[i].StarsDelta > risers[j].StarsDelta
		}
		return risers[i].FullName < risers[j].FullName
	})
	if len(risers) > k {
		risers = risers[:k]
	}
	return risers
}

// active returns entries updated within the recency window, most recent
// first, capped at maxActive.
func active(entries []model.TrendEntry, date time.Time, windowDays int) []model.TrendEntry {
	cutoff := date.AddDate(0, 0, -windowDays)

	var out []model.TrendEntry
	for _, e := range entries {
		if !e.UpdatedAt.IsZero() && !e.UpdatedAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].FullName < out[j].FullName
	})
	if len(out) > maxActive {
		out = out[:maxActive]
	}
	return out
}

func mean(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

func median(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return float64(sorted[mid])
	}
	return float64(sorted[mid-1]+sorted[mid]) / 2
}
