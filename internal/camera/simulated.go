package camera

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// SimulatedDevice produces synthetic frames: a block moving across a gray
// background with the capture time stamped in the corner.
type SimulatedDevice struct {
	mu     sync.Mutex
	width  int
	height int
	open   bool
	frame  int
	now    func() time.Time
}

// NewSimulatedDevice creates a closed simulated camera
func NewSimulatedDevice(width, height int) *SimulatedDevice {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}
	return &SimulatedDevice{width: width, height: height, now: time.Now}
}

// Open implements Device
func (d *SimulatedDevice) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	return nil
}

// Read implements Device
func (d *SimulatedDevice) Read() (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return nil, ErrAsleep
	}

	img := image.NewRGBA(image.Rect(0, 0, d.width, d.height))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.RGBA{64, 64, 64, 255}}, image.Point{}, draw.Src)

	size := d.height / 4
	x := (d.frame * 8) % (d.width - size)
	block := image.Rect(x, d.height/2-size/2, x+size, d.height/2+size/2)
	draw.Draw(img, block, &image.Uniform{color.RGBA{200, 200, 200, 255}}, image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(8), Y: fixed.I(d.height - 8)},
	}
	drawer.DrawString(d.now().Format("2006-01-02 15:04:05") + " SIM")

	d.frame++
	return img, nil
}

// Close implements Device
func (d *SimulatedDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}

// Name implements Device
func (d *SimulatedDevice) Name() string {
	return "simulated"
}
