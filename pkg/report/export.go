package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/SeverMM/ai-mri-analyzer/pkg/logging"
)

// timestampFormat matches the artifact naming used across reports.
const timestampFormat = "20060102_150405"

// ExportCSV writes the summarized study to report_<timestamp>.csv inside
// outDir and returns the file path. The study-level impression and
// recommendations come first, then one row per series with its findings
// joined by " | ".
func ExportCSV(summary StudySummary, outDir string) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir %s: %w", outDir, err)
	}

	path := filepath.Join(outDir, fmt.Sprintf("report_%s.csv", time.Now().Format(timestampFormat)))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)

	rows := [][]string{
		{"Study Impression"},
		{summary.Study.Impression},
		{},
		{"Study Recommendations"},
		{summary.Study.Recommendations},
		{},
		{"Series ID", "Findings", "Impression", "Recommendations"},
	}
	for _, id := range summary.SeriesIDs() {
		s := summary.Series[id]
		rows = append(rows, []string{
			id,
			strings.Join(s.Findings, " | "),
			s.Impression,
			s.Recommendations,
		})
	}

	if err := w.WriteAll(rows); err != nil {
		return "", fmt.Errorf("write report %s: %w", path, err)
	}

	logger := logging.NewLogger("report")
	logger.Info().
		Str("path", path).
		Int("series", len(summary.Series)).
		Msg("CSV report saved")

	return path, nil
}
