// Package results implements at-most-once persistence of raw batch
// responses. Presence of an artifact for a (series, batch index) key means
// the batch is done; a rerun skips it without any network call.
package results

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for artifact persistence.
var (
	artifactsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mri_artifacts_written_total",
		Help: "Total batch response artifacts persisted",
	})

	artifactBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mri_artifact_bytes_written_total",
		Help: "Total bytes of batch responses persisted",
	})
)

// Artifact identifies one persisted batch response.
type Artifact struct {
	SeriesID   string
	BatchIndex int
	Path       string
}

// Store persists batch responses under a single results directory.
// Each artifact is written by exactly one task per run, so there is no
// write contention on a key.
type Store struct {
	dir string
}

// NewStore creates the results directory if needed and returns a store
// rooted there.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the results directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the artifact location for a (series, batch index) key.
func (s *Store) Path(seriesID string, batchIndex int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_batch%d.json", seriesID, batchIndex))
}

// Exists reports whether the artifact for the key is already persisted.
func (s *Store) Exists(seriesID string, batchIndex int) bool {
	_, err := os.Stat(s.Path(seriesID, batchIndex))
	return err == nil
}

// Write persists content for the key in one atomic step: the bytes go to a
// temporary file in the same directory which is then renamed into place, so
// a partially written artifact is never visible under its final name.
func (s *Store) Write(seriesID string, batchIndex int, content []byte) error {
	final := s.Path(seriesID, batchIndex)

	tmp, err := os.CreateTemp(s.dir, filepath.Base(final)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write artifact %s: %w", final, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close artifact %s: %w", final, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("finalize artifact %s: %w", final, err)
	}

	artifactsWrittenTotal.Inc()
	artifactBytesWritten.Add(float64(len(content)))
	return nil
}

// Read returns the raw content of an artifact.
func (s *Store) Read(seriesID string, batchIndex int) ([]byte, error) {
	data, err := os.ReadFile(s.Path(seriesID, batchIndex))
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// List returns all persisted artifacts sorted by series then batch index.
// Files that don't follow the artifact naming scheme are ignored.
func (s *Store) List() ([]Artifact, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list results dir %s: %w", s.dir, err)
	}

	var artifacts []Artifact
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		seriesID, batchIndex, ok := parseArtifactName(entry.Name())
		if !ok {
			continue
		}
		artifacts = append(artifacts, Artifact{
			SeriesID:   seriesID,
			BatchIndex: batchIndex,
			Path:       filepath.Join(s.dir, entry.Name()),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		if artifacts[i].SeriesID != artifacts[j].SeriesID {
			return artifacts[i].SeriesID < artifacts[j].SeriesID
		}
		return artifacts[i].BatchIndex < artifacts[j].BatchIndex
	})

	return artifacts, nil
}

// parseArtifactName splits "<series>_batch<idx>.json" into its key parts.
func parseArtifactName(name string) (string, int, bool) {
	if !strings.HasSuffix(name, ".json") {
		return "", 0, false
	}
	stem := strings.TrimSuffix(name, ".json")

	pos := strings.LastIndex(stem, "_batch")
	if pos <= 0 {
		return "", 0, false
	}

	idx, err := strconv.Atoi(stem[pos+len("_batch"):])
	if err != nil || idx < 1 {
		return "", 0, false
	}

	return stem[:pos], idx, true
}
