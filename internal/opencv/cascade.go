package opencv

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// CascadeConfig contains Haar cascade parameters
type CascadeConfig struct {
	Path         string
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int
	Preprocess   PreprocessConfig
}

// CascadeDetector finds frontal faces with a Haar cascade. The frame is
// converted to gray and equalized with CLAHE before detection.
type CascadeDetector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	config     CascadeConfig
}

// NewCascadeDetector loads the cascade file
func NewCascadeDetector(cfg CascadeConfig) (*CascadeDetector, error) {
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("cascade file: %w", err)
	}
	if cfg.ScaleFactor <= 1 {
		cfg.ScaleFactor = 1.1
	}
	if cfg.MinNeighbors <= 0 {
		cfg.MinNeighbors = 4
	}
	if cfg.Preprocess.CLAHETile <= 0 {
		cfg.Preprocess = DefaultPreprocessConfig()
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cfg.Path) {
		classifier.Close()
		return nil, fmt.Errorf("failed to load cascade %s", cfg.Path)
	}

	return &CascadeDetector{classifier: classifier, config: cfg}, nil
}

// DetectRegions implements face.RegionDetector
func (d *CascadeDetector) DetectRegions(img image.Image) ([]image.Rectangle, error) {
	src, err := ToMat(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	eq, err := equalize(src, d.config.Preprocess)
	if err != nil {
		return nil, err
	}
	defer eq.Close()

	minSize := image.Pt(d.config.MinSize, d.config.MinSize)

	// CascadeClassifier is not safe for concurrent use
	d.mu.Lock()
	defer d.mu.Unlock()

	regions := d.classifier.DetectMultiScaleWithParams(eq, d.config.ScaleFactor, d.config.MinNeighbors, 0, minSize, image.Point{})

	// Mat coordinates start at zero; map them back onto the source bounds
	offset := img.Bounds().Min
	for i := range regions {
		regions[i] = regions[i].Add(offset)
	}
	return regions, nil
}

// Close releases the cascade
func (d *CascadeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifier.Close()
}
