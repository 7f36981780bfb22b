//go:build nocamera

package main

import (
	"errors"

	"github.com/banshee-data/cambridge/internal/camera"
	"github.com/banshee-data/cambridge/internal/stream"
)

var errNoCamera = errors.New("built without camera support (nocamera tag), use -dev DIR")

func openCamera(int) (camera.Source, error) {
	return nil, errNoCamera
}

func openPreview(string) (stream.Preview, func(), error) {
	return nil, nil, errNoCamera
}
