package opencv

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// PreprocessConfig controls face normalization
type PreprocessConfig struct {
	FaceSize  int
	CLAHEClip float64
	CLAHETile int
}

// DefaultPreprocessConfig returns the normalization used for training and prediction
func DefaultPreprocessConfig() PreprocessConfig {
	return PreprocessConfig{FaceSize: 200, CLAHEClip: 2.0, CLAHETile: 8}
}

// equalize converts a BGR Mat to gray and applies CLAHE
func equalize(src gocv.Mat, cfg PreprocessConfig) (gocv.Mat, error) {
	gray := gocv.NewMat()
	defer gray.Close()
	if err := gocv.CvtColor(src, &gray, gocv.ColorBGRToGray); err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to convert to gray: %w", err)
	}

	clahe := gocv.NewCLAHEWithParams(cfg.CLAHEClip, image.Pt(cfg.CLAHETile, cfg.CLAHETile))
	defer clahe.Close()

	out := gocv.NewMat()
	if err := clahe.Apply(gray, &out); err != nil {
		out.Close()
		return gocv.Mat{}, fmt.Errorf("failed to equalize: %w", err)
	}
	return out, nil
}

// Preprocess normalizes a face crop: gray, CLAHE, then a square resize.
// Training and prediction both go through this function. The caller must
// Close the result; on error there is nothing to close.
func Preprocess(img image.Image, cfg PreprocessConfig) (gocv.Mat, error) {
	src, err := ToMat(img)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer src.Close()

	eq, err := equalize(src, cfg)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer eq.Close()

	out := gocv.NewMat()
	if err := gocv.Resize(eq, &out, image.Pt(cfg.FaceSize, cfg.FaceSize), 0, 0, gocv.InterpolationLinear); err != nil {
		out.Close()
		return gocv.Mat{}, fmt.Errorf("failed to resize face: %w", err)
	}
	return out, nil
}
