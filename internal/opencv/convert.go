// Package opencv adapts gocv to the pure-Go interfaces used by the rest of
// the node. Every cgo call lives here; callers only see image.Image.
package opencv

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// ToMat converts img into a BGR Mat. The caller must Close it.
func ToMat(img image.Image) (gocv.Mat, error) {
	if img == nil {
		return gocv.Mat{}, fmt.Errorf("opencv: nil image")
	}
	if img.Bounds().Empty() {
		return gocv.Mat{}, fmt.Errorf("opencv: empty image bounds")
	}

	if gray, ok := img.(*image.Gray); ok {
		m, err := gocv.ImageGrayToMatGray(gray)
		if err != nil {
			return gocv.Mat{}, err
		}
		defer m.Close()
		bgr := gocv.NewMat()
		if err := gocv.CvtColor(m, &bgr, gocv.ColorGrayToBGR); err != nil {
			bgr.Close()
			return gocv.Mat{}, fmt.Errorf("opencv: gray to BGR: %w", err)
		}
		return bgr, nil
	}

	return gocv.ImageToMatRGB(img)
}

// ToImage converts a Mat back into an image.Image
func ToImage(m gocv.Mat) (image.Image, error) {
	if m.Empty() {
		return nil, fmt.Errorf("opencv: empty mat")
	}
	return m.ToImage()
}
