// Package report aggregates persisted batch responses into series and
// study summaries, exports them as CSV and produces an optional narrative
// summary through the inference API. Everything here runs after dispatch
// and only reads artifacts written by the results store.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/SeverMM/ai-mri-analyzer/pkg/logging"
	"github.com/SeverMM/ai-mri-analyzer/pkg/results"
)

// Summary aggregates findings, impression and recommendations for one
// series or for the whole study.
type Summary struct {
	Findings        []string
	Impression      string
	Recommendations string
}

// StudySummary is the full aggregation output: one summary per series
// plus a study-wide rollup.
type StudySummary struct {
	Series map[string]Summary
	Study  Summary
}

// SeriesIDs returns the series identifiers in sorted order.
func (s StudySummary) SeriesIDs() []string {
	ids := make([]string, 0, len(s.Series))
	for id := range s.Series {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// batchResponse mirrors the fields the model is asked to produce. Values
// stay loosely typed because the model occasionally returns a string
// where a list is expected, or vice versa.
type batchResponse struct {
	Findings        any `json:"findings"`
	Impression      any `json:"impression"`
	Recommendations any `json:"recommendations"`
}

// Summarize loads every artifact from the store, groups batches by series
// and aggregates findings (deduplicated, first occurrence order),
// impressions and recommendations (paragraphs joined by blank lines).
// Artifacts that fail to parse are skipped; they stay on disk for manual
// inspection.
func Summarize(store *results.Store) (StudySummary, error) {
	logger := logging.NewLogger("report")

	artifacts, err := store.List()
	if err != nil {
		return StudySummary{}, fmt.Errorf("summarize results: %w", err)
	}

	type accumulator struct {
		findings        []string
		impressions     []string
		recommendations []string
	}
	perSeries := make(map[string]*accumulator)
	var order []string

	skipped := 0
	for _, artifact := range artifacts {
		data, err := os.ReadFile(artifact.Path)
		if err != nil {
			return StudySummary{}, fmt.Errorf("read artifact %s: %w", artifact.Path, err)
		}

		var resp batchResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			skipped++
			logger.Warn().
				Str("path", artifact.Path).
				Err(err).
				Msg("Skipping malformed artifact")
			continue
		}

		acc, ok := perSeries[artifact.SeriesID]
		if !ok {
			acc = &accumulator{}
			perSeries[artifact.SeriesID] = acc
			order = append(order, artifact.SeriesID)
		}

		acc.findings = append(acc.findings, normalizeList(resp.Findings)...)
		if text := normalizeText(resp.Impression); text != "" {
			acc.impressions = append(acc.impressions, text)
		}
		if text := normalizeText(resp.Recommendations); text != "" {
			acc.recommendations = append(acc.recommendations, text)
		}
	}

	out := StudySummary{Series: make(map[string]Summary, len(perSeries))}
	var studyFindings, studyImpressions, studyRecs []string

	for _, id := range order {
		acc := perSeries[id]
		summary := Summary{
			Findings:        uniquePreserveOrder(acc.findings),
			Impression:      strings.Join(acc.impressions, "\n\n"),
			Recommendations: strings.Join(acc.recommendations, "\n\n"),
		}
		out.Series[id] = summary

		studyFindings = append(studyFindings, summary.Findings...)
		studyImpressions = append(studyImpressions, summary.Impression)
		studyRecs = append(studyRecs, summary.Recommendations)
	}

	out.Study = Summary{
		Findings:        uniquePreserveOrder(studyFindings),
		Impression:      strings.Join(studyImpressions, "\n\n"),
		Recommendations: strings.Join(studyRecs, "\n\n"),
	}

	logger.Info().
		Int("artifacts", len(artifacts)).
		Int("series", len(out.Series)).
		Int("skipped", skipped).
		Msg("Summarized study results")

	return out, nil
}

// normalizeList flattens a findings value into strings. The model may
// return a list of strings, a list of objects or a bare string.
func normalizeList(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, stringify(item))
		}
		return out
	default:
		return []string{stringify(val)}
	}
}

// normalizeText flattens an impression or recommendations value into one
// trimmed string.
func normalizeText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, stringify(item))
		}
		return strings.TrimSpace(strings.Join(parts, " "))
	default:
		return strings.TrimSpace(stringify(val))
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func uniquePreserveOrder(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
