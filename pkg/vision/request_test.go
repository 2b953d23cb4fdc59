package vision

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempImage(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuildMessages_Structure(t *testing.T) {
	img1 := writeTempImage(t, "IMG-0003-00001.jpg", []byte("jpegdata"))
	img2 := writeTempImage(t, "IMG-0003-00002.png", []byte("pngdata"))

	msgs, err := BuildMessages(RequestSpec{
		SeriesID:       "IMG-0003",
		SequenceType:   "T2-weighted axial pelvis",
		PatientContext: "Male, 74 y",
		PriorFlag:      "abnormality",
		ImagePaths:     []string{img1, img2},
	})
	if err != nil {
		t.Fatalf("BuildMessages() error = %v", err)
	}

	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (system + user)", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Errorf("first message role = %q, want system", msgs[0].Role)
	}
	if msgs[0].Content != SystemPrompt {
		t.Error("system message should carry the system prompt")
	}

	content, ok := msgs[1].Content.([]ContentPart)
	if !ok {
		t.Fatalf("user content has type %T, want []ContentPart", msgs[1].Content)
	}
	if len(content) != 3 {
		t.Fatalf("user content has %d parts, want 1 text + 2 images", len(content))
	}

	// One instructional text block first.
	if content[0].Type != "text" {
		t.Errorf("first part type = %q, want text", content[0].Type)
	}
	for _, want := range []string{"IMG-0003", "T2-weighted axial pelvis", "Slice count sent: 2", "Male, 74 y", "abnormality", `"findings"`} {
		if !strings.Contains(content[0].Text, want) {
			t.Errorf("instruction text missing %q", want)
		}
	}

	// Image parts follow in input order with extension-derived MIME types.
	if content[1].Type != "image_url" || content[2].Type != "image_url" {
		t.Error("parts after the text block should be image references")
	}
	if !strings.HasPrefix(content[1].ImageURL.URL, "data:image/jpeg;base64,") {
		t.Errorf("jpg image URI = %q, want image/jpeg data URI", content[1].ImageURL.URL[:40])
	}
	if !strings.HasPrefix(content[2].ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("png image URI = %q, want image/png data URI", content[2].ImageURL.URL[:40])
	}
}

func TestBuildMessages_EmptyPatientContext(t *testing.T) {
	msgs, err := BuildMessages(RequestSpec{
		SeriesID:     "IMG-0001",
		SequenceType: "Unknown sequence type",
		PriorFlag:    "abnormality",
	})
	if err != nil {
		t.Fatalf("BuildMessages() error = %v", err)
	}

	content := msgs[1].Content.([]ContentPart)
	if !strings.Contains(content[0].Text, "Patient context: N/A") {
		t.Error("empty patient context should render as N/A")
	}
}

func TestBuildMessages_MissingImage(t *testing.T) {
	_, err := BuildMessages(RequestSpec{
		SeriesID:   "IMG-0001",
		PriorFlag:  "abnormality",
		ImagePaths: []string{"/nonexistent/image.jpg"},
	})
	if err == nil {
		t.Error("BuildMessages() should fail for an unreadable image")
	}
}
