// Package opencv captures frames from a local camera through gocv and shows
// an optional preview window.
package opencv

import (
	"context"
	"fmt"
	"image"
	"log"

	"gocv.io/x/gocv"

	"github.com/banshee-data/cambridge/internal/camera"
)

// Device is a camera.Source backed by an OpenCV VideoCapture.
type Device struct {
	id      int
	capture *gocv.VideoCapture
	mat     gocv.Mat
	closed  bool
}

// Open opens the camera with the given index.
func Open(deviceID int) (*Device, error) {
	capture, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, fmt.Errorf("could not open camera %d: %w", deviceID, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("could not open camera %d", deviceID)
	}
	return &Device{
		id:      deviceID,
		capture: capture,
		mat:     gocv.NewMat(),
	}, nil
}

// Read grabs the next frame. VideoCapture.Read blocks at the camera frame rate
// so ctx is only checked between frames.
func (d *Device) Read(ctx context.Context) (image.Image, error) {
	if d.closed {
		return nil, camera.ErrSourceClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ok := d.capture.Read(&d.mat); !ok || d.mat.Empty() {
		return nil, camera.ErrReadFailed
	}
	// ToImage converts OpenCV's BGR layout to RGBA.
	img, err := d.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	return img, nil
}

// Close releases the camera.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.mat.Close()
	err := d.capture.Close()
	log.Printf("camera %d released", d.id)
	return err
}

func (d *Device) String() string {
	return fmt.Sprintf("camera %d", d.id)
}
