package report

import (
	"reflect"
	"testing"

	"github.com/SeverMM/ai-mri-analyzer/pkg/results"
)

func newTestStore(t *testing.T) *results.Store {
	t.Helper()
	store, err := results.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

func TestSummarize_AggregatesPerSeries(t *testing.T) {
	store := newTestStore(t)

	write := func(series string, idx int, content string) {
		t.Helper()
		if err := store.Write(series, idx, []byte(content)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	write("IMG-0001", 1, `{"findings": ["lesion left lobe", "edema"], "impression": "abnormal", "recommendations": "follow up"}`)
	write("IMG-0001", 2, `{"findings": ["edema", "midline shift"], "impression": "concerning", "recommendations": "contrast study"}`)
	write("IMG-0002", 1, `{"findings": [], "impression": "unremarkable", "recommendations": "none"}`)

	summary, err := Summarize(store)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	if len(summary.Series) != 2 {
		t.Fatalf("expected 2 series, got %d", len(summary.Series))
	}

	first := summary.Series["IMG-0001"]
	wantFindings := []string{"lesion left lobe", "edema", "midline shift"}
	if !reflect.DeepEqual(first.Findings, wantFindings) {
		t.Errorf("findings = %v, want %v (deduplicated, order preserved)", first.Findings, wantFindings)
	}
	if first.Impression != "abnormal\n\nconcerning" {
		t.Errorf("impression = %q, want paragraphs joined by blank line", first.Impression)
	}
	if first.Recommendations != "follow up\n\ncontrast study" {
		t.Errorf("recommendations = %q", first.Recommendations)
	}

	if got := summary.Study.Impression; got != "abnormal\n\nconcerning\n\nunremarkable" {
		t.Errorf("study impression = %q", got)
	}
	if !reflect.DeepEqual(summary.Study.Findings, wantFindings) {
		t.Errorf("study findings = %v, want %v", summary.Study.Findings, wantFindings)
	}
}

func TestSummarize_ToleratesLooseTypes(t *testing.T) {
	store := newTestStore(t)

	// The model sometimes returns a bare string for findings, a list for
	// impression, or objects inside findings.
	content := `{
		"findings": [{"region": "frontal", "note": "hyperintensity"}, "atrophy"],
		"impression": ["mild", "chronic changes"],
		"recommendations": "clinical correlation"
	}`
	if err := store.Write("IMG-0003", 1, []byte(content)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := store.Write("IMG-0003", 2, []byte(`{"findings": "single finding"}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	summary, err := Summarize(store)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	s := summary.Series["IMG-0003"]
	if len(s.Findings) != 3 {
		t.Fatalf("findings = %v, want 3 entries", s.Findings)
	}
	if s.Findings[1] != "atrophy" || s.Findings[2] != "single finding" {
		t.Errorf("findings order wrong: %v", s.Findings)
	}
	if s.Impression != "mild chronic changes" {
		t.Errorf("impression = %q, want list joined by spaces", s.Impression)
	}
	if s.Recommendations != "clinical correlation" {
		t.Errorf("recommendations = %q", s.Recommendations)
	}
}

func TestSummarize_SkipsMalformedArtifacts(t *testing.T) {
	store := newTestStore(t)

	if err := store.Write("IMG-0004", 1, []byte(`not json at all`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := store.Write("IMG-0004", 2, []byte(`{"findings": ["ok"], "impression": "fine", "recommendations": "none"}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	summary, err := Summarize(store)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	s, ok := summary.Series["IMG-0004"]
	if !ok {
		t.Fatal("series missing from summary")
	}
	if !reflect.DeepEqual(s.Findings, []string{"ok"}) {
		t.Errorf("findings = %v, malformed batch should be skipped silently", s.Findings)
	}
}

func TestSummarize_EmptyStore(t *testing.T) {
	store := newTestStore(t)

	summary, err := Summarize(store)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if len(summary.Series) != 0 {
		t.Errorf("expected no series, got %d", len(summary.Series))
	}
	if summary.Study.Impression != "" || len(summary.Study.Findings) != 0 {
		t.Errorf("study summary should be empty, got %+v", summary.Study)
	}
}

func TestSummarize_MissingFieldsYieldEmptySections(t *testing.T) {
	store := newTestStore(t)

	if err := store.Write("IMG-0005", 1, []byte(`{"impression": "partial"}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	summary, err := Summarize(store)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	s := summary.Series["IMG-0005"]
	if len(s.Findings) != 0 {
		t.Errorf("findings = %v, want none", s.Findings)
	}
	if s.Impression != "partial" {
		t.Errorf("impression = %q", s.Impression)
	}
	if s.Recommendations != "" {
		t.Errorf("recommendations = %q, want empty", s.Recommendations)
	}
}

func TestSeriesIDs_Sorted(t *testing.T) {
	summary := StudySummary{Series: map[string]Summary{
		"IMG-0009": {},
		"IMG-0001": {},
		"IMG-0005": {},
	}}

	got := summary.SeriesIDs()
	want := []string{"IMG-0001", "IMG-0005", "IMG-0009"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SeriesIDs() = %v, want %v", got, want)
	}
}
