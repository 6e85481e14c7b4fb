package face

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pipatrol/patrol/internal/storage"
)

// LabelMap maps classifier label ids to person names. It is persisted next
// to the model so loading never depends on directory enumeration order.
type LabelMap struct {
	Names     []string  `json:"labels"`
	Samples   int       `json:"samples"`
	TrainedAt time.Time `json:"trained_at"`
}

// Name returns the person for a label id
func (m LabelMap) Name(label int) (string, bool) {
	if label < 0 || label >= len(m.Names) {
		return "", false
	}
	return m.Names[label], true
}

// SaveLabels writes the label map atomically
func SaveLabels(path string, labels LabelMap) error {
	data, err := json.MarshalIndent(labels, "", "  ")
	if err != nil {
		return err
	}
	return storage.WriteFileAtomic(path, data, 0644)
}

// LoadLabels reads a label map written by SaveLabels
func LoadLabels(path string) (LabelMap, error) {
	var labels LabelMap
	data, err := os.ReadFile(path)
	if err != nil {
		return labels, err
	}
	if err := json.Unmarshal(data, &labels); err != nil {
		return labels, fmt.Errorf("failed to parse labels %s: %w", path, err)
	}
	return labels, nil
}

// Person is one corpus directory and its sample files
type Person struct {
	Name  string
	Files []string
}

var sampleExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// ScanCorpus lists person directories in name order, each with its sample
// files in name order. A missing corpus directory is an empty corpus.
func ScanCorpus(dir string) ([]Person, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}

	var people []Person
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		files, err := os.ReadDir(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read corpus person %s: %w", entry.Name(), err)
		}

		person := Person{Name: entry.Name()}
		for _, f := range files {
			if f.IsDir() || !sampleExtensions[strings.ToLower(filepath.Ext(f.Name()))] {
				continue
			}
			person.Files = append(person.Files, filepath.Join(dir, entry.Name(), f.Name()))
		}
		sort.Strings(person.Files)
		people = append(people, person)
	}

	sort.Slice(people, func(i, j int) bool { return people[i].Name < people[j].Name })
	return people, nil
}
