package face

import (
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pipatrol/patrol/internal/storage"
)

// fixedDetector reports the same regions for every image
type fixedDetector struct {
	regions []image.Rectangle
	err     error
}

func (d *fixedDetector) DetectRegions(img image.Image) ([]image.Rectangle, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.regions, nil
}

// meanClassifier labels a face by the nearest mean luminance seen in
// training. The distance is the absolute luminance difference.
type meanClassifier struct {
	means  map[int]float64
	err    error
	closed bool
	mu     sync.Mutex
}

func (c *meanClassifier) Predict(face image.Image) (int, float64, error) {
	if c.err != nil {
		return 0, 0, c.err
	}
	m := meanLuma(face)
	best, bestDist := -1, math.MaxFloat64
	for label, mean := range c.means {
		if d := math.Abs(mean - m); d < bestDist {
			best, bestDist = label, d
		}
	}
	return best, bestDist, nil
}

func (c *meanClassifier) Save(path string) error {
	data, err := json.Marshal(c.means)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *meanClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *meanClassifier) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type meanFactory struct {
	trained  []*meanClassifier
	samples  []Sample
	trainErr error
}

func (f *meanFactory) Train(samples []Sample) (Classifier, error) {
	if f.trainErr != nil {
		return nil, f.trainErr
	}
	f.samples = samples

	sums := map[int]float64{}
	counts := map[int]int{}
	for _, s := range samples {
		sums[s.Label] += meanLuma(s.Image)
		counts[s.Label]++
	}
	c := &meanClassifier{means: map[int]float64{}}
	for label, sum := range sums {
		c.means[label] = sum / float64(counts[label])
	}
	f.trained = append(f.trained, c)
	return c, nil
}

func (f *meanFactory) Load(path string) (Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := &meanClassifier{}
	if err := json.Unmarshal(data, &c.means); err != nil {
		return nil, errors.New("corrupt model")
	}
	return c, nil
}

func meanLuma(img image.Image) float64 {
	b := img.Bounds()
	var sum float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sum += float64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
		}
	}
	return sum / float64(b.Dx()*b.Dy())
}

func solidImage(w, h int, luma uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{luma, luma, luma, 255})
		}
	}
	return img
}

func writeSample(t *testing.T, corpus, person, name string, luma uint8) {
	t.Helper()
	dir := filepath.Join(corpus, person)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, storage.SaveJPEG(filepath.Join(dir, name), solidImage(40, 40, luma), 95))
}

func setupTestIdentifier(t *testing.T, detector RegionDetector) (*Identifier, *meanFactory, Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		CorpusDir:  filepath.Join(dir, "known_faces"),
		ModelPath:  filepath.Join(dir, "model", "model.yml"),
		LabelsPath: filepath.Join(dir, "model", "labels.json"),
		Threshold:  70,
	}
	if detector == nil {
		detector = &fixedDetector{}
	}
	factory := &meanFactory{}
	id, err := NewIdentifier(cfg, detector, factory, nil)
	require.NoError(t, err)
	t.Cleanup(func() { id.Close() })
	return id, factory, cfg
}
