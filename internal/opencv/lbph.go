package opencv

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
	"gocv.io/x/gocv/contrib"

	"github.com/pipatrol/patrol/internal/face"
)

// LBPHConfig contains LBPH recognizer parameters
type LBPHConfig struct {
	Radius     int
	Neighbors  int
	Grid       int
	Preprocess PreprocessConfig
}

// LBPHFactory trains and loads LBPH face recognizers. It implements
// face.ClassifierFactory.
type LBPHFactory struct {
	config LBPHConfig
}

// NewLBPHFactory creates a factory
func NewLBPHFactory(cfg LBPHConfig) *LBPHFactory {
	if cfg.Radius <= 0 {
		cfg.Radius = 2
	}
	if cfg.Neighbors <= 0 {
		cfg.Neighbors = 8
	}
	if cfg.Grid <= 0 {
		cfg.Grid = 8
	}
	if cfg.Preprocess.FaceSize <= 0 {
		cfg.Preprocess = DefaultPreprocessConfig()
	}
	return &LBPHFactory{config: cfg}
}

func (f *LBPHFactory) newRecognizer() *contrib.LBPHFaceRecognizer {
	r := contrib.NewLBPHFaceRecognizer()
	r.SetRadius(f.config.Radius)
	r.SetNeighbors(f.config.Neighbors)
	r.SetGrid(image.Pt(f.config.Grid, f.config.Grid))
	return r
}

// Train fits a recognizer on the preprocessed samples
func (f *LBPHFactory) Train(samples []face.Sample) (face.Classifier, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no training samples")
	}

	mats := make([]gocv.Mat, 0, len(samples))
	labels := make([]int, 0, len(samples))
	defer func() {
		for _, m := range mats {
			m.Close()
		}
	}()

	for _, s := range samples {
		m, err := Preprocess(s.Image, f.config.Preprocess)
		if err != nil {
			return nil, fmt.Errorf("failed to preprocess sample: %w", err)
		}
		mats = append(mats, m)
		labels = append(labels, s.Label)
	}

	r := f.newRecognizer()
	if err := trainRecognizer(r, mats, labels); err != nil {
		r.Close()
		return nil, err
	}
	return &LBPHClassifier{recognizer: r, preprocess: f.config.Preprocess}, nil
}

func trainRecognizer(r *contrib.LBPHFaceRecognizer, mats []gocv.Mat, labels []int) error {
	if len(mats) != len(labels) {
		return fmt.Errorf("failed to train recognizer: %d images for %d labels", len(mats), len(labels))
	}
	if err := r.Train(mats, labels); err != nil {
		return fmt.Errorf("failed to train recognizer: %w", err)
	}
	return nil
}

// Load reads a recognizer saved with LBPHClassifier.Save
func (f *LBPHFactory) Load(path string) (face.Classifier, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	r := f.newRecognizer()
	if err := r.LoadFile(path); err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to load model %s: %w", path, err)
	}
	if r.Empty() {
		r.Close()
		return nil, fmt.Errorf("failed to load model %s: no trained data", path)
	}
	return &LBPHClassifier{recognizer: r, preprocess: f.config.Preprocess}, nil
}

// LBPHClassifier wraps a trained recognizer
type LBPHClassifier struct {
	mu         sync.Mutex
	recognizer *contrib.LBPHFaceRecognizer
	preprocess PreprocessConfig
}

// Predict implements face.Classifier
func (c *LBPHClassifier) Predict(img image.Image) (int, float64, error) {
	m, err := Preprocess(img, c.preprocess)
	if err != nil {
		return 0, 0, err
	}
	defer m.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recognizer == nil {
		return 0, 0, fmt.Errorf("recognizer closed")
	}

	resp := c.recognizer.PredictExtendedResponse(m)
	if resp.Label < 0 {
		return 0, 0, fmt.Errorf("no prediction")
	}
	return int(resp.Label), float64(resp.Confidence), nil
}

// Save implements face.Classifier
func (c *LBPHClassifier) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recognizer == nil {
		return fmt.Errorf("recognizer closed")
	}
	if err := c.recognizer.SaveFile(path); err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}
	return nil
}

// Close implements face.Classifier
func (c *LBPHClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recognizer == nil {
		return nil
	}
	err := c.recognizer.Close()
	c.recognizer = nil
	return err
}
