package report

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/SeverMM/ai-mri-analyzer/pkg/vision"
)

type fakeCompleter struct {
	model    string
	messages []vision.Message
	reply    string
	err      error
}

func (f *fakeCompleter) Completion(ctx context.Context, model string, messages []vision.Message) (string, error) {
	f.model = model
	f.messages = messages
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func TestGenerateFinalSummary(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "report_20260830_120000.csv")
	csvContent := "Study Impression\nabnormal study\n"
	if err := os.WriteFile(csvPath, []byte(csvContent), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	client := &fakeCompleter{reply: "  Patient summary.\n\nProfessional report.  "}

	path, err := GenerateFinalSummary(context.Background(), client, "o3", csvPath, dir)
	if err != nil {
		t.Fatalf("GenerateFinalSummary failed: %v", err)
	}

	if client.model != "o3" {
		t.Errorf("model = %q, want o3", client.model)
	}
	if len(client.messages) != 2 {
		t.Fatalf("got %d messages, want system plus user", len(client.messages))
	}
	user, ok := client.messages[1].Content.(string)
	if !ok {
		t.Fatalf("user content is %T, want string", client.messages[1].Content)
	}
	if !strings.Contains(user, csvContent) {
		t.Error("CSV content missing from the user message")
	}

	name := filepath.Base(path)
	if !strings.HasPrefix(name, "summary_") || !strings.HasSuffix(name, ".txt") {
		t.Errorf("summary name = %q, want summary_<timestamp>.txt", name)
	}
	saved, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if string(saved) != "Patient summary.\n\nProfessional report." {
		t.Errorf("saved summary = %q, want trimmed reply", saved)
	}
}

func TestGenerateFinalSummary_MissingCSV(t *testing.T) {
	client := &fakeCompleter{reply: "unused"}

	_, err := GenerateFinalSummary(context.Background(), client, "o3",
		filepath.Join(t.TempDir(), "missing.csv"), t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing CSV")
	}
}

func TestGenerateFinalSummary_APIErrorPropagates(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "report.csv")
	if err := os.WriteFile(csvPath, []byte("data"), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	apiErr := errors.New("model unavailable")
	client := &fakeCompleter{err: apiErr}

	_, err := GenerateFinalSummary(context.Background(), client, "o3", csvPath, dir)
	if !errors.Is(err, apiErr) {
		t.Errorf("err = %v, want wrapped API error", err)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "summary_") {
			t.Error("no summary file should exist after a failed completion")
		}
	}
}
