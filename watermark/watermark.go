// Package watermark - plaintext image watermarking utility
//
// Operates purely on decoded plaintext passed in by the caller; nothing here
// touches the store or any key material.
package watermark

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"

	"github.com/go-playground/validator/v10"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Options watermark rendering parameters
type Options struct {
	// Text the overlay text
	Text string `validate:"required"`
	// Alpha overlay opacity, 0 transparent to 255 opaque
	Alpha uint8
	// TileSpacing pixel gap between repeated overlays
	TileSpacing int `validate:"gt=0"`
	// JPEGQuality re-encode quality for JPEG inputs
	JPEGQuality int `validate:"gt=0,lte=100"`
}

// DefaultOptions watermark defaults for an overlay text
func DefaultOptions(text string) Options {
	return Options{
		Text:        text,
		Alpha:       72,
		TileSpacing: 96,
		JPEGQuality: 85,
	}
}

/*
Apply draw a translucent tiled text overlay onto an image

The input must be PNG or JPEG; the output is re-encoded in the same format.

	@param imageBytes []byte - the source image
	@param opts Options - rendering parameters
	@return the watermarked image
*/
func Apply(imageBytes []byte, opts Options) ([]byte, error) {
	if err := validator.New().Struct(&opts); err != nil {
		return nil, fmt.Errorf("invalid watermark options [%w]", err)
	}

	source, format, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to decode source image [%w]", err)
	}
	if format != "png" && format != "jpeg" {
		return nil, fmt.Errorf("unsupported image format '%s'", format)
	}

	bounds := source.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, source, bounds.Min, draw.Src)

	overlay(canvas, opts)

	var encoded bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&encoded, canvas)
	case "jpeg":
		err = jpeg.Encode(&encoded, canvas, &jpeg.Options{Quality: opts.JPEGQuality})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode watermarked image [%w]", err)
	}

	return encoded.Bytes(), nil
}

// overlay tile the watermark text across the canvas
func overlay(canvas *image.RGBA, opts Options) {
	face := basicfont.Face7x13
	ink := image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: opts.Alpha})

	textWidth := font.MeasureString(face, opts.Text).Ceil()
	bounds := canvas.Bounds()

	// Offset alternate rows by half a tile so the overlay reads diagonally
	row := 0
	for y := bounds.Min.Y + face.Height; y < bounds.Max.Y; y += opts.TileSpacing {
		xStart := bounds.Min.X
		if row%2 == 1 {
			xStart -= (textWidth + opts.TileSpacing) / 2
		}
		for x := xStart; x < bounds.Max.X; x += textWidth + opts.TileSpacing {
			drawer := font.Drawer{
				Dst:  canvas,
				Src:  ink,
				Face: face,
				Dot:  fixed.P(x, y),
			}
			drawer.DrawString(opts.Text)
		}
		row++
	}
}
