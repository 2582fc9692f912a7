package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
)

// Compose stacks frames vertically in order onto an opaque white canvas as
// wide as the widest frame. Transparent pixels come out white.
func Compose(frames []Frame) (*Composed, error) {
	if len(frames) == 0 {
		return nil, errors.New("snapshot: no frames")
	}

	imgs := make([]image.Image, len(frames))
	width, height := 0, 0
	for i, f := range frames {
		img, _, err := image.Decode(bytes.NewReader(f.Image))
		if err != nil {
			return nil, fmt.Errorf("snapshot: decode frame %d: %w", i, err)
		}
		imgs[i] = img
		b := img.Bounds()
		if b.Dx() > width {
			width = b.Dx()
		}
		height += b.Dy()
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	y := 0
	for _, img := range imgs {
		b := img.Bounds()
		dst := image.Rect(0, y, b.Dx(), y+b.Dy())
		draw.Draw(canvas, dst, img, b.Min, draw.Over)
		y += b.Dy()
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	return &Composed{PNG: buf.Bytes(), Width: width, Height: height, Frames: len(frames)}, nil
}
