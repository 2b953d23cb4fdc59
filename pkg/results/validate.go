package results

import (
	"encoding/json"
)

// Suspicion levels the response schema allows for a finding.
const (
	SuspicionBenign           = "benign"
	SuspicionIndeterminate    = "indeterminate"
	SuspicionSuspicious       = "suspicious"
	SuspicionHighlySuspicious = "highly_suspicious"
)

// Finding is one entry of the "findings" array in a well-shaped response.
type Finding struct {
	SliceIndex         int    `json:"slice_index"`
	AnatomicalLocation string `json:"anatomical_location"`
	Description        string `json:"description"`
	SuspicionLevel     string `json:"suspicion_level"`
	Confidence         int    `json:"confidence"`
}

// requiredFields are the top-level keys a response must carry to be
// considered well-shaped.
var requiredFields = []string{"findings", "impression", "recommendations"}

// shapeProbe checks field presence without committing to field types;
// nil pointers distinguish absent keys from empty values.
type shapeProbe struct {
	Findings        *json.RawMessage `json:"findings"`
	Impression      *json.RawMessage `json:"impression"`
	Recommendations *json.RawMessage `json:"recommendations"`
}

// ShapeResult is the outcome of a structural check on a persisted response.
// A defective shape is not a failure: the artifact stays on disk for manual
// review and the batch still counts as completed.
type ShapeResult struct {
	// Parsed is false when the content is not valid JSON at all.
	Parsed bool

	// Missing lists the required top-level fields that are absent.
	// Empty when Parsed is false (nothing to probe).
	Missing []string
}

// OK reports whether the response parsed and carries all required fields.
func (r ShapeResult) OK() bool {
	return r.Parsed && len(r.Missing) == 0
}

// CheckShape probes raw response content against the fixed response schema.
func CheckShape(raw []byte) ShapeResult {
	var probe shapeProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ShapeResult{}
	}

	present := map[string]bool{
		"findings":        probe.Findings != nil,
		"impression":      probe.Impression != nil,
		"recommendations": probe.Recommendations != nil,
	}

	var missing []string
	for _, field := range requiredFields {
		if !present[field] {
			missing = append(missing, field)
		}
	}

	return ShapeResult{Parsed: true, Missing: missing}
}
