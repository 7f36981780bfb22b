//go:build !nocamera

package main

import (
	"github.com/banshee-data/cambridge/internal/camera"
	"github.com/banshee-data/cambridge/internal/camera/opencv"
	"github.com/banshee-data/cambridge/internal/stream"
)

func openCamera(id int) (camera.Source, error) {
	d, err := opencv.Open(id)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// openPreview returns the preview window and a function closing it.
func openPreview(title string) (stream.Preview, func(), error) {
	p := opencv.NewPreview(title)
	return p, func() { p.Close() }, nil
}
