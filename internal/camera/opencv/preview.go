package opencv

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/banshee-data/cambridge/internal/monitoring"
)

const quitKey = 'q'

// Preview shows the cropped frames in a local window. Pressing q asks the
// capture loop to stop.
type Preview struct {
	window *gocv.Window
}

// NewPreview opens a window with the given title.
func NewPreview(title string) *Preview {
	return &Preview{window: gocv.NewWindow(title)}
}

// Show displays img and reports whether the quit key was pressed.
func (p *Preview) Show(img image.Image) (quit bool) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		monitoring.Logf("preview: failed to convert frame: %v", err)
		return false
	}
	defer mat.Close()

	p.window.IMShow(mat)
	return p.window.WaitKey(1)&0xFF == quitKey
}

// Close closes the window.
func (p *Preview) Close() error {
	return p.window.Close()
}
