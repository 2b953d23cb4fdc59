package results

import (
	"reflect"
	"testing"
)

func TestCheckShape(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		parsed  bool
		missing []string
	}{
		{
			name:   "well shaped",
			raw:    `{"findings": [], "impression": "clear", "recommendations": "none"}`,
			parsed: true,
		},
		{
			name:    "missing findings and recommendations",
			raw:     `{"impression":"x"}`,
			parsed:  true,
			missing: []string{"findings", "recommendations"},
		},
		{
			name:    "empty object",
			raw:     `{}`,
			parsed:  true,
			missing: []string{"findings", "impression", "recommendations"},
		},
		{
			name:   "explicit nulls report as missing",
			raw:    `{"findings": null, "impression": null, "recommendations": null}`,
			parsed: true,
			// a null impression is as useless as an absent one
			missing: []string{"findings", "impression", "recommendations"},
		},
		{
			name:   "not json at all",
			raw:    `I'm sorry, I can't analyze these images.`,
			parsed: false,
		},
		{
			name:   "truncated json",
			raw:    `{"findings": [`,
			parsed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckShape([]byte(tt.raw))

			if result.Parsed != tt.parsed {
				t.Errorf("Parsed = %v, want %v", result.Parsed, tt.parsed)
			}
			if !reflect.DeepEqual(result.Missing, tt.missing) {
				t.Errorf("Missing = %v, want %v", result.Missing, tt.missing)
			}

			wantOK := tt.parsed && len(tt.missing) == 0
			if result.OK() != wantOK {
				t.Errorf("OK() = %v, want %v", result.OK(), wantOK)
			}
		})
	}
}
