package vision

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Message is one chat message. Content is either a plain string (system
// messages) or a []ContentPart (multimodal user messages).
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentPart is one element of a multimodal message: a text block or an
// image reference.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL wraps an image reference (a data URI in this application).
type ImageURL struct {
	URL string `json:"url"`
}

// RequestSpec carries everything the request builder needs for one batch.
type RequestSpec struct {
	// SeriesID identifies the series, e.g. "IMG-0003".
	SeriesID string

	// SequenceType is a human-readable sequence description.
	SequenceType string

	// PatientContext is short demographics / relevant history.
	PatientContext string

	// PriorFlag is the preliminary AI finding to confirm or refute.
	PriorFlag string

	// ImagePaths are the batch's images, in slice order.
	ImagePaths []string
}

// BuildMessages produces the system + user message pair for one batch.
// The user content starts with one instructional text block followed by one
// image reference per input image, preserving order. Images are inlined as
// base64 data URIs.
func BuildMessages(spec RequestSpec) ([]Message, error) {
	patientContext := spec.PatientContext
	if patientContext == "" {
		patientContext = "N/A"
	}

	text := fmt.Sprintf(userTemplate,
		spec.SeriesID,
		spec.SequenceType,
		len(spec.ImagePaths),
		patientContext,
		spec.PriorFlag,
		responseSchema,
	)

	content := make([]ContentPart, 0, len(spec.ImagePaths)+1)
	content = append(content, ContentPart{Type: "text", Text: text})

	for _, path := range spec.ImagePaths {
		uri, err := imageDataURI(path)
		if err != nil {
			return nil, err
		}
		content = append(content, ContentPart{
			Type:     "image_url",
			ImageURL: &ImageURL{URL: uri},
		})
	}

	return []Message{
		{Role: "system", Content: SystemPrompt},
		{Role: "user", Content: content},
	}, nil
}

// imageDataURI encodes the file at path as a data URI. MIME type is derived
// from the extension: .png maps to image/png, everything else to image/jpeg.
func imageDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", path, err)
	}

	mime := "image/jpeg"
	if strings.ToLower(filepath.Ext(path)) == ".png" {
		mime = "image/png"
	}

	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)), nil
}
