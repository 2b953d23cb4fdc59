package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/SeverMM/ai-mri-analyzer/pkg/logging"
	"github.com/SeverMM/ai-mri-analyzer/pkg/vision"
)

// summaryPrompt asks for a two-part narrative: a plain-language section a
// patient can read, followed by a professional report.
const summaryPrompt = "You are a highly experienced radiologist and medical writer. " +
	"You will receive a CSV file that contains an AI-generated interpretation of an MRI study. " +
	"You must produce two consecutive sections:\n\n" +
	"1. A plain-language summary (≤ 250 words) that can be understood by a layperson.\n" +
	"2. A detailed professional report providing nuanced findings, clinical significance, and actionable next steps " +
	"for healthcare professionals. This section may use medical terminology, cite imaging sequences or slice numbers, " +
	"and should end with clear recommendations for further imaging or management."

// CompletionClient is the non-streaming inference call the narrative
// summary needs. *vision.Client satisfies it.
type CompletionClient interface {
	Completion(ctx context.Context, model string, messages []vision.Message) (string, error)
}

// GenerateFinalSummary sends the CSV report to the model and writes the
// returned narrative to summary_<timestamp>.txt in outDir. Callers treat
// a failure here as non-fatal; the CSV report already holds the study
// content.
func GenerateFinalSummary(ctx context.Context, client CompletionClient, model, csvPath, outDir string) (string, error) {
	content, err := os.ReadFile(csvPath)
	if err != nil {
		return "", fmt.Errorf("read report %s: %w", csvPath, err)
	}

	logger := logging.NewLogger("report")
	logger.Info().Str("model", model).Msg("Requesting final narrative summary")

	messages := []vision.Message{
		{Role: "system", Content: summaryPrompt},
		{Role: "user", Content: "Here is the CSV report for the MRI study. Generate the two-part summary as instructed.\n\n" + string(content)},
	}

	text, err := client.Completion(ctx, model, messages)
	if err != nil {
		return "", fmt.Errorf("narrative summary: %w", err)
	}
	text = strings.TrimSpace(text)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir %s: %w", outDir, err)
	}
	path := filepath.Join(outDir, fmt.Sprintf("summary_%s.txt", time.Now().Format(timestampFormat)))
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write summary %s: %w", path, err)
	}

	logger.Info().Str("path", path).Int("bytes", len(text)).Msg("Final narrative summary saved")
	return path, nil
}
