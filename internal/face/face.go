// Package face trains and queries the face identity model. Image processing
// is delegated to a RegionDetector and a ClassifierFactory so that the
// identification rules here stay independent of the vision backend.
package face

import (
	"errors"
	"image"
	"math"
)

// Unknown is the label reported for faces that are not recognized
const Unknown = "Unknown"

var (
	// ErrMissingName is returned by Enroll when no person name is given
	ErrMissingName = errors.New("missing name")
	// ErrInvalidName is returned by Enroll when a name has no usable characters
	ErrInvalidName = errors.New("invalid name")
	// ErrDetection wraps failures of the face region detector
	ErrDetection = errors.New("face detection failed")
	// ErrInvalidImage is returned when enrolled data is not a decodable image
	ErrInvalidImage = errors.New("invalid image")
)

// Detection is one face found in a frame
type Detection struct {
	Box        image.Rectangle
	Label      string
	Confidence float64 // classifier distance; lower is a closer match
}

// Known reports whether the face was matched to an enrolled person
func (d Detection) Known() bool {
	return d.Label != Unknown
}

// Sample is one training image with its label id
type Sample struct {
	Image image.Image
	Label int
}

// RegionDetector finds face regions in a frame
type RegionDetector interface {
	DetectRegions(img image.Image) ([]image.Rectangle, error)
}

// Classifier predicts the label of a face crop. Implementations apply the
// same preprocessing in Predict as their factory applies in Train.
type Classifier interface {
	Predict(face image.Image) (label int, distance float64, err error)
	Save(path string) error
	Close() error
}

// ClassifierFactory trains new classifiers and loads persisted ones
type ClassifierFactory interface {
	Train(samples []Sample) (Classifier, error)
	Load(path string) (Classifier, error)
}

// Decide applies the rejection threshold: a distance strictly below
// threshold yields the mapped label, anything else is Unknown.
func Decide(labels LabelMap, label int, distance, threshold float64) string {
	if distance < threshold {
		if name, ok := labels.Name(label); ok {
			return name
		}
	}
	return Unknown
}

// rejectedDistance is reported for faces that could not be classified at all
func rejectedDistance(threshold float64) float64 {
	return math.Max(100, threshold)
}

// largestRegion returns the region with the biggest area
func largestRegion(regions []image.Rectangle) (image.Rectangle, bool) {
	var best image.Rectangle
	found := false
	for _, r := range regions {
		if r.Empty() {
			continue
		}
		if !found || r.Dx()*r.Dy() > best.Dx()*best.Dy() {
			best = r
			found = true
		}
	}
	return best, found
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Crop returns the part of img inside r, clipped to the image bounds
func Crop(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())
	if si, ok := img.(subImager); ok {
		return si.SubImage(r)
	}

	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			out.Set(x-r.Min.X, y-r.Min.Y, img.At(x, y))
		}
	}
	return out
}
