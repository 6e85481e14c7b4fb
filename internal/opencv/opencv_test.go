package opencv

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/pipatrol/patrol/internal/face"
)

const defaultCascade = "/usr/share/opencv4/haarcascades/haarcascade_frontalface_default.xml"

func testImage(w, h int, luma uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// diagonal gradient gives LBPH some texture
			v := luma + uint8((x+y)%32)
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func TestPreprocess_Size(t *testing.T) {
	m, err := Preprocess(testImage(320, 240, 60), DefaultPreprocessConfig())
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 200, m.Rows())
	assert.Equal(t, 200, m.Cols())
	assert.Equal(t, 1, m.Channels())
}

func TestPreprocess_NilImage(t *testing.T) {
	m, err := Preprocess(nil, DefaultPreprocessConfig())
	assert.Error(t, err)
	assert.True(t, m.Closed(), "nothing to release on error")
}

func TestToImageRoundTrip(t *testing.T) {
	m, err := ToMat(testImage(64, 48, 10))
	require.NoError(t, err)
	defer m.Close()

	img, err := ToImage(m)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())
}

func TestLBPH_TrainSavePredict(t *testing.T) {
	factory := NewLBPHFactory(LBPHConfig{})

	samples := []face.Sample{
		{Image: testImage(120, 120, 20), Label: 0},
		{Image: testImage(120, 120, 22), Label: 0},
		{Image: testImage(120, 120, 200), Label: 1},
		{Image: testImage(120, 120, 202), Label: 1},
	}
	classifier, err := factory.Train(samples)
	require.NoError(t, err)
	defer classifier.Close()

	label, distance, err := classifier.Predict(testImage(120, 120, 20))
	require.NoError(t, err)
	assert.Contains(t, []int{0, 1}, label)
	assert.GreaterOrEqual(t, distance, 0.0)

	path := filepath.Join(t.TempDir(), "model.yml")
	require.NoError(t, classifier.Save(path))

	loaded, err := factory.Load(path)
	require.NoError(t, err)
	defer loaded.Close()

	loadedLabel, loadedDistance, err := loaded.Predict(testImage(120, 120, 20))
	require.NoError(t, err)
	assert.Equal(t, label, loadedLabel)
	assert.InDelta(t, distance, loadedDistance, 0.001)
}

func TestLBPH_LoadMissing(t *testing.T) {
	_, err := NewLBPHFactory(LBPHConfig{}).Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestLBPH_LoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yml")
	require.NoError(t, os.WriteFile(path, []byte("%YAML:1.0\nnot: [a model"), 0644))

	_, err := NewLBPHFactory(LBPHConfig{}).Load(path)
	assert.Error(t, err)
}

func TestLBPH_TrainMismatchedLabels(t *testing.T) {
	f := NewLBPHFactory(LBPHConfig{})
	m, err := Preprocess(testImage(120, 120, 20), f.config.Preprocess)
	require.NoError(t, err)
	defer m.Close()

	r := f.newRecognizer()
	defer r.Close()
	assert.Error(t, trainRecognizer(r, []gocv.Mat{m}, []int{0, 1}))
	assert.Error(t, trainRecognizer(r, nil, nil), "OpenCV rejects an empty training set")
}

func TestLBPH_GridFromConfig(t *testing.T) {
	r := NewLBPHFactory(LBPHConfig{Grid: 4}).newRecognizer()
	defer r.Close()
	assert.Equal(t, image.Pt(4, 4), r.GetGrid())

	r = NewLBPHFactory(LBPHConfig{}).newRecognizer()
	defer r.Close()
	assert.Equal(t, image.Pt(8, 8), r.GetGrid())
}

func TestLBPH_SaveAfterClose(t *testing.T) {
	classifier, err := NewLBPHFactory(LBPHConfig{}).Train([]face.Sample{
		{Image: testImage(120, 120, 20), Label: 0},
		{Image: testImage(120, 120, 200), Label: 1},
	})
	require.NoError(t, err)
	require.NoError(t, classifier.Close())

	path := filepath.Join(t.TempDir(), "model.yml")
	assert.Error(t, classifier.Save(path))
	assert.NoFileExists(t, path)
}

func TestLBPH_TrainEmpty(t *testing.T) {
	_, err := NewLBPHFactory(LBPHConfig{}).Train(nil)
	assert.Error(t, err)
}

func TestCascadeDetector_BlankFrame(t *testing.T) {
	if _, err := os.Stat(defaultCascade); err != nil {
		t.Skip("haar cascade not installed")
	}

	d, err := NewCascadeDetector(CascadeConfig{Path: defaultCascade, MinSize: 80})
	require.NoError(t, err)
	defer d.Close()

	regions, err := d.DetectRegions(testImage(640, 480, 0))
	require.NoError(t, err)
	assert.Empty(t, regions)
}

func TestCascadeDetector_MissingFile(t *testing.T) {
	_, err := NewCascadeDetector(CascadeConfig{Path: filepath.Join(t.TempDir(), "none.xml")})
	assert.Error(t, err)
}

func TestVideoDevice_ReadClosed(t *testing.T) {
	d := NewVideoDevice(CaptureConfig{})
	_, err := d.Read()
	assert.Error(t, err)
	assert.NoError(t, d.Close())
}

func TestVideoDevice_OpenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewVideoDevice(CaptureConfig{}).Open(ctx), context.Canceled)
}
