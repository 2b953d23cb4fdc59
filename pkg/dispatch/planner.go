// Package dispatch implements the batch dispatch engine: planning a series
// into bounded batches and executing them concurrently against the
// inference API under shared concurrency and rate budgets, with bounded
// retries and idempotent persistence.
package dispatch

import (
	"errors"
	"fmt"

	"github.com/SeverMM/ai-mri-analyzer/pkg/series"
)

// Batch size bounds imposed by the remote API's per-request entity limit.
const (
	MinBatchSize = 1
	MaxBatchSize = 20
)

// ErrBatchSize is returned when a batch size is outside [1, 20].
var ErrBatchSize = errors.New("batch size must be between 1 and 20")

// Batch is a contiguous slice of a series' work items. Batches are
// independent units of work: failure of one never affects its siblings.
type Batch struct {
	// Index is 1-based within the series and keys the output artifact.
	Index int

	// Items are the batch's images in series order.
	Items []series.WorkItem
}

// Plan splits items into batches of batchSize, preserving order. Every
// batch is full except possibly the last. The batches are disjoint and
// their concatenation equals the input.
func Plan(items []series.WorkItem, batchSize int) ([]Batch, error) {
	if batchSize < MinBatchSize || batchSize > MaxBatchSize {
		return nil, fmt.Errorf("%w (got %d)", ErrBatchSize, batchSize)
	}

	var batches []Batch
	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, Batch{
			Index: len(batches) + 1,
			Items: items[start:end],
		})
	}

	return batches, nil
}
