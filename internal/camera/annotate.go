package camera

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/pipatrol/patrol/internal/face"
)

var (
	knownColor   = color.RGBA{0, 255, 0, 255}
	unknownColor = color.RGBA{255, 0, 0, 255}
)

// Annotate returns a copy of frame with a box and "label (distance)" drawn
// for every detection. Known faces are green, unknown ones red.
func Annotate(frame image.Image, detections []face.Detection) *image.RGBA {
	b := frame.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), frame, b.Min, draw.Src)

	for _, d := range detections {
		c := unknownColor
		if d.Known() {
			c = knownColor
		}
		box := d.Box.Sub(b.Min)
		drawBox(out, box, c, 2)
		drawLabel(out, box.Min.X, box.Min.Y-10, fmt.Sprintf("%s (%.1f)", d.Label, d.Confidence), c)
	}
	return out
}

func drawBox(img *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	for t := 0; t < thickness; t++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			setClipped(img, x, r.Min.Y+t, c)
			setClipped(img, x, r.Max.Y-1-t, c)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			setClipped(img, r.Min.X+t, y, c)
			setClipped(img, r.Max.X-1-t, y, c)
		}
	}
}

func setClipped(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{x, y}).In(img.Rect) {
		img.SetRGBA(x, y, c)
	}
}

// drawLabel writes text with its baseline at y, kept inside the frame
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 13 {
		y = 13
	}
	if x < 0 {
		x = 0
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(label)
}
