package watermark_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/alwitt/quickvault/watermark"
	"github.com/stretchr/testify/assert"
)

// solidPNG render a one-color PNG for test input
func solidPNG(t *testing.T, width, height int, fill color.NRGBA) []byte {
	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			canvas.SetNRGBA(x, y, fill)
		}
	}
	var encoded bytes.Buffer
	assert.Nil(t, png.Encode(&encoded, canvas))
	return encoded.Bytes()
}

// TestWatermarkApply verifies the overlay changes pixels and the output stays
// decodable in the source format.
func TestWatermarkApply(t *testing.T) {
	assert := assert.New(t)

	source := solidPNG(t, 320, 240, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	marked, err := watermark.Apply(source, watermark.DefaultOptions("CONFIDENTIAL"))
	assert.Nil(err)
	assert.NotEqual(source, marked)

	// Output decodes as PNG with unchanged dimensions
	decoded, format, err := image.Decode(bytes.NewReader(marked))
	assert.Nil(err)
	assert.Equal("png", format)
	assert.Equal(320, decoded.Bounds().Dx())
	assert.Equal(240, decoded.Bounds().Dy())

	// The overlay brightened at least some pixels
	changed := 0
	for y := 0; y < 240; y += 3 {
		for x := 0; x < 320; x += 3 {
			r, g, b, _ := decoded.At(x, y).RGBA()
			if r>>8 != 10 || g>>8 != 20 || b>>8 != 30 {
				changed++
			}
		}
	}
	assert.Greater(changed, 0)
}

// TestWatermarkRejectsBadInput verifies option validation and format checks.
func TestWatermarkRejectsBadInput(t *testing.T) {
	assert := assert.New(t)

	source := solidPNG(t, 64, 64, color.NRGBA{A: 255})

	// 1 – Empty overlay text
	_, err := watermark.Apply(source, watermark.Options{TileSpacing: 10, JPEGQuality: 80})
	assert.Error(err)

	// 2 – Not an image at all
	_, err = watermark.Apply([]byte("definitely not an image"), watermark.DefaultOptions("X"))
	assert.Error(err)
}
