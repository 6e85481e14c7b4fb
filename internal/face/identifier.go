package face

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pipatrol/patrol/internal/logger"
	"github.com/pipatrol/patrol/internal/storage"
)

// Config contains identifier settings
type Config struct {
	CorpusDir  string
	ModelPath  string
	LabelsPath string
	Threshold  float64
}

// Identifier owns the identity model. Detection holds the read lock for a
// whole frame; retraining builds the replacement outside the lock and swaps
// it in under the write lock.
type Identifier struct {
	logger   *logger.Logger
	config   Config
	detector RegionDetector
	factory  ClassifierFactory

	mu         sync.RWMutex
	classifier Classifier
	labels     LabelMap

	trainMu  sync.Mutex
	enrollMu sync.Mutex
}

// TrainResult summarizes a training run
type TrainResult struct {
	Labels   []string
	Samples  int
	Skipped  int
	Duration time.Duration
}

// ProgressFunc is called after each corpus file is processed
type ProgressFunc func(done, total int)

// ModelInfo describes the loaded model
type ModelInfo struct {
	Trained   bool      `json:"trained"`
	Labels    []string  `json:"labels"`
	Samples   int       `json:"samples"`
	TrainedAt time.Time `json:"trained_at,omitempty"`
	Threshold float64   `json:"threshold"`
}

// NewIdentifier creates an identifier in unknown-only mode. Call Load or
// Train to install a model.
func NewIdentifier(config Config, detector RegionDetector, factory ClassifierFactory, log *logger.Logger) (*Identifier, error) {
	if detector == nil {
		return nil, fmt.Errorf("face detector is required")
	}
	if factory == nil {
		return nil, fmt.Errorf("classifier factory is required")
	}
	if config.Threshold <= 0 {
		return nil, fmt.Errorf("threshold must be positive, got %v", config.Threshold)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Identifier{
		logger:   log,
		config:   config,
		detector: detector,
		factory:  factory,
	}, nil
}

// Load installs the persisted model. Missing model or label files leave the
// identifier in unknown-only mode without error.
func (id *Identifier) Load(ctx context.Context) error {
	if _, err := os.Stat(id.config.ModelPath); errors.Is(err, os.ErrNotExist) {
		id.logger.Warn("No face model found, every face will be reported as Unknown",
			"model_path", id.config.ModelPath,
		)
		id.install(nil, LabelMap{})
		return nil
	}

	labels, err := LoadLabels(id.config.LabelsPath)
	if errors.Is(err, os.ErrNotExist) {
		id.logger.Warn("Face model has no label map, every face will be reported as Unknown",
			"labels_path", id.config.LabelsPath,
		)
		id.install(nil, LabelMap{})
		return nil
	}
	if err != nil {
		return err
	}

	classifier, err := id.factory.Load(id.config.ModelPath)
	if err != nil {
		return fmt.Errorf("failed to load face model: %w", err)
	}

	id.install(classifier, labels)
	id.logger.Info("Face model loaded",
		"labels", len(labels.Names),
		"samples", labels.Samples,
		"trained_at", labels.TrainedAt,
	)
	return nil
}

// Train rebuilds the model from the corpus. An empty corpus switches to
// unknown-only mode and removes the persisted model.
func (id *Identifier) Train(ctx context.Context, progress ProgressFunc) (*TrainResult, error) {
	id.trainMu.Lock()
	defer id.trainMu.Unlock()

	start := time.Now()

	people, err := ScanCorpus(id.config.CorpusDir)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, p := range people {
		total += len(p.Files)
	}

	result := &TrainResult{Labels: make([]string, 0, len(people))}
	var samples []Sample
	done := 0

	for label, person := range people {
		result.Labels = append(result.Labels, person.Name)

		for _, path := range person.Files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			img, err := id.loadSample(path)
			if err != nil {
				id.logger.Warn("Skipping training image", "path", path, "error", err)
				result.Skipped++
			} else {
				samples = append(samples, Sample{Image: img, Label: label})
			}

			done++
			if progress != nil {
				progress(done, total)
			}
		}
	}
	result.Samples = len(samples)

	if len(samples) == 0 {
		id.logger.Warn("Face corpus is empty, every face will be reported as Unknown",
			"corpus_dir", id.config.CorpusDir,
		)
		id.install(nil, LabelMap{})
		for _, path := range []string{id.config.ModelPath, id.config.LabelsPath} {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				id.logger.Warn("Failed to remove stale model file", "path", path, "error", err)
			}
		}
		result.Duration = time.Since(start)
		return result, nil
	}

	classifier, err := id.factory.Train(samples)
	if err != nil {
		return nil, fmt.Errorf("failed to train face model: %w", err)
	}

	labels := LabelMap{
		Names:     result.Labels,
		Samples:   len(samples),
		TrainedAt: time.Now().UTC(),
	}

	if err := id.persist(classifier, labels); err != nil {
		classifier.Close()
		return nil, err
	}

	id.install(classifier, labels)
	result.Duration = time.Since(start)

	id.logger.Info("Face model trained",
		"labels", len(result.Labels),
		"samples", result.Samples,
		"skipped", result.Skipped,
		"duration", result.Duration,
	)
	return result, nil
}

// loadSample decodes a corpus file and crops it to its largest face, if any
func (id *Identifier) loadSample(path string) (image.Image, error) {
	img, err := storage.LoadImage(path)
	if err != nil {
		return nil, err
	}

	regions, err := id.detector.DetectRegions(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetection, err)
	}
	if r, ok := largestRegion(regions); ok {
		return Crop(img, r), nil
	}
	return img, nil
}

// persist writes the model first so a crash never leaves a label map that
// describes a model which was not written.
func (id *Identifier) persist(classifier Classifier, labels LabelMap) error {
	// Keep the extension; the model writer picks its format from it
	tmp := filepath.Join(filepath.Dir(id.config.ModelPath), ".tmp-"+filepath.Base(id.config.ModelPath))
	if err := os.MkdirAll(filepath.Dir(id.config.ModelPath), 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	// a leftover from an interrupted run must not stand in for this save
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear stale model file: %w", err)
	}
	if err := classifier.Save(tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to save face model: %w", err)
	}
	if err := os.Rename(tmp, id.config.ModelPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to save face model: %w", err)
	}
	if err := SaveLabels(id.config.LabelsPath, labels); err != nil {
		return fmt.Errorf("failed to save label map: %w", err)
	}
	return nil
}

func (id *Identifier) install(classifier Classifier, labels LabelMap) {
	id.mu.Lock()
	old := id.classifier
	id.classifier = classifier
	id.labels = labels
	id.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// Detect finds faces in img and identifies each one. A region the
// classifier cannot handle is reported as Unknown; a detector failure is
// returned wrapped in ErrDetection.
func (id *Identifier) Detect(img image.Image) ([]Detection, error) {
	if img == nil {
		return nil, ErrInvalidImage
	}

	regions, err := id.detector.DetectRegions(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetection, err)
	}
	if len(regions) == 0 {
		return nil, nil
	}

	id.mu.RLock()
	defer id.mu.RUnlock()

	detections := make([]Detection, 0, len(regions))
	for _, r := range regions {
		detections = append(detections, id.classify(img, r))
	}
	return detections, nil
}

// classify must be called with mu held
func (id *Identifier) classify(img image.Image, r image.Rectangle) Detection {
	d := Detection{
		Box:        r,
		Label:      Unknown,
		Confidence: rejectedDistance(id.config.Threshold),
	}
	if id.classifier == nil {
		return d
	}

	label, distance, err := id.classifier.Predict(Crop(img, r))
	if err != nil {
		id.logger.Debug("Face prediction failed", "box", r.String(), "error", err)
		return d
	}

	d.Label = Decide(id.labels, label, distance, id.config.Threshold)
	d.Confidence = distance
	return d
}

// Trained reports whether a model is installed
func (id *Identifier) Trained() bool {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.classifier != nil
}

// Info returns a description of the installed model
func (id *Identifier) Info() ModelInfo {
	id.mu.RLock()
	defer id.mu.RUnlock()

	names := make([]string, len(id.labels.Names))
	copy(names, id.labels.Names)

	return ModelInfo{
		Trained:   id.classifier != nil,
		Labels:    names,
		Samples:   id.labels.Samples,
		TrainedAt: id.labels.TrainedAt,
		Threshold: id.config.Threshold,
	}
}

// CorpusDir returns the directory enrollments are staged in
func (id *Identifier) CorpusDir() string {
	return id.config.CorpusDir
}

// Close releases the installed model
func (id *Identifier) Close() error {
	id.mu.Lock()
	defer id.mu.Unlock()
	if id.classifier == nil {
		return nil
	}
	err := id.classifier.Close()
	id.classifier = nil
	return err
}
