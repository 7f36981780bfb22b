// Package frame turns captured camera images into the encoded payloads that
// are streamed to the simulator: optional aspect-fill scaling, a centre crop
// to the target screen size, and PNG encoding.
package frame

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	xdraw "golang.org/x/image/draw"

	"github.com/banshee-data/cambridge/internal/display"
)

// CenterCrop cuts a box of the given size around the image centre. The box
// uses integer halves of the target size, so an odd dimension loses one
// pixel. Any part of the box outside the source is opaque black.
func CenterCrop(src image.Image, size display.ScreenSize) *image.RGBA {
	b := src.Bounds()
	cx := b.Min.X + b.Dx()/2
	cy := b.Min.Y + b.Dy()/2
	hw, hh := size.Width/2, size.Height/2

	box := image.Rect(cx-hw, cy-hh, cx+hw, cy+hh)
	dst := image.NewRGBA(image.Rect(0, 0, box.Dx(), box.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	// Only the overlap with the source is copied; the rest stays black.
	overlap := box.Intersect(b)
	if !overlap.Empty() {
		dr := overlap.Sub(box.Min)
		draw.Draw(dst, dr, src, overlap.Min, draw.Src)
	}
	return dst
}

// ScaleToFill scales src so that it covers size on both axes while keeping
// its aspect ratio. A following CenterCrop then trims the overflow.
func ScaleToFill(src image.Image, size display.ScreenSize) image.Image {
	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return src
	}
	sx := float64(size.Width) / float64(b.Dx())
	sy := float64(size.Height) / float64(b.Dy())
	scale := sx
	if sy > scale {
		scale = sy
	}
	w := int(float64(b.Dx())*scale + 0.5)
	h := int(float64(b.Dy())*scale + 0.5)
	if w == b.Dx() && h == b.Dy() {
		return src
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)
	return dst
}

// Compression names accepted by ParseCompression.
const (
	CompressionDefault = "default"
	CompressionSpeed   = "speed"
	CompressionBest    = "best"
	CompressionNone    = "none"
)

// ParseCompression maps a configuration name to a PNG compression level.
func ParseCompression(name string) (png.CompressionLevel, error) {
	switch name {
	case "", CompressionDefault:
		return png.DefaultCompression, nil
	case CompressionSpeed:
		return png.BestSpeed, nil
	case CompressionBest:
		return png.BestCompression, nil
	case CompressionNone:
		return png.NoCompression, nil
	}
	return png.DefaultCompression, fmt.Errorf("unknown png compression %q", name)
}

// Options controls Processor behaviour.
type Options struct {
	Size        display.ScreenSize
	ScaleToFill bool
	Compression png.CompressionLevel
}

// Processor converts captured images into encoded frame payloads.
type Processor struct {
	opts    Options
	encoder png.Encoder
	buf     bytes.Buffer
}

// NewProcessor creates a Processor for the given options.
func NewProcessor(opts Options) (*Processor, error) {
	if opts.Size.Width <= 0 || opts.Size.Height <= 0 {
		return nil, fmt.Errorf("invalid screen size %v", opts.Size)
	}
	return &Processor{
		opts:    opts,
		encoder: png.Encoder{CompressionLevel: opts.Compression, BufferPool: &bufferPool{}},
	}, nil
}

// Size returns the configured screen size.
func (p *Processor) Size() display.ScreenSize {
	return p.opts.Size
}

// Crop applies the optional scaling and the centre crop.
func (p *Processor) Crop(img image.Image) *image.RGBA {
	if p.opts.ScaleToFill {
		img = ScaleToFill(img, p.opts.Size)
	}
	return CenterCrop(img, p.opts.Size)
}

// Encode PNG-encodes img. The returned slice is owned by the caller.
func (p *Processor) Encode(img image.Image) ([]byte, error) {
	p.buf.Reset()
	if err := p.encoder.Encode(&p.buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	out := make([]byte, p.buf.Len())
	copy(out, p.buf.Bytes())
	return out, nil
}

// Process crops and encodes a captured image, returning the cropped image as
// well so callers can preview it.
func (p *Processor) Process(img image.Image) (*image.RGBA, []byte, error) {
	cropped := p.Crop(img)
	data, err := p.Encode(cropped)
	if err != nil {
		return nil, nil, err
	}
	return cropped, data, nil
}

// bufferPool keeps one png encoder buffer between frames.
type bufferPool struct {
	b *png.EncoderBuffer
}

func (p *bufferPool) Get() *png.EncoderBuffer  { return p.b }
func (p *bufferPool) Put(b *png.EncoderBuffer) { p.b = b }
