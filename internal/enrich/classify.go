// internal/enrich/classify.go
package enrich

import (
	"strings"

	"github-trend-tracker/internal/model"
)

// classification rules, applied in order; first match wins.
var categoryRules = []struct {
	category model.Category
	keywords []string
}{
	{model.CategoryPlugin, []string{"plugin", "extension", "vscode", "chrome", "firefox"}},
	{model.CategoryTemplate, []string{"template", "starter", "boilerplate", "scaffold"}},
	{model.CategoryDemo, []string{"demo", "example", "sample", "tutorial"}},
	{model.CategoryDocs, []string{"doc", "guide", "book", "documentation", "awesome"}},
	{model.CategoryIntegration, []string{"integration", "wrapper", "sdk", "api"}},
	{model.CategoryTool, []string{"cli", "tool", "utility", "script"}},
	{model.CategoryApp, []string{"app", "application", "webapp", "dashboard"}},
	{model.CategoryLibrary, []string{"lib", "library", "package", "framework"}},
}

// ClassifyByRules assigns a category from locally available signals only:
// repository name, description, topics and language. It is pure and
// deterministic so tests can assert exact categories without network access,
// and it never fails; unmatched input is "other".
func ClassifyByRules(record model.RepositoryRecord) model.Category {
	parts := []string{
		strings.ToLower(record.FullName),
		strings.ToLower(record.Name),
		strings.ToLower(record.Description),
		strings.ToLower(record.Language),
	}
	for _, topic := range record.Topics {
		parts = append(parts, strings.ToLower(topic))
	}
	combined := strings.Join(parts, " ")

	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(combined, kw) {
				return rule.category
			}
		}
	}
	return model.CategoryOther
}

// fallbackDetail builds a rule-classified detail record used when the
// summarization service is unavailable.
func fallbackDetail(record model.RepositoryRecord) model.RepositoryDetail {
	summary := record.Description
	if r := []rune(summary); len(r) > 80 {
		summary = string(r[:80]) + "..."
	}
	if summary == "" {
		summary = record.FullName
	}
	return model.RepositoryDetail{
		FullName:    record.FullName,
		Owner:       record.Owner,
		URL:         record.URL,
		Summary:     summary,
		Description: record.Description,
		Category:    ClassifyByRules(record),
		Language:    record.Language,
		Fallback:    true,
	}
}
