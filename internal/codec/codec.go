// Package codec implements the image decode/encode primitives used by the
// publish loop: file to RGB raster, and raster to PNG bytes with a
// configurable compression level.
package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"

	_ "image/jpeg" // register JPEG decoder
)

// Raster is a decoded frame in 3-byte interleaved RGB layout.
type Raster struct {
	Width  int
	Height int
	Step   int // bytes per row, always Width*3
	Data   []byte
}

// DecodeFile reads and decodes an image file into an RGB raster.
//
// PNG and JPEG are supported (anything the registered stdlib decoders
// accept). The source is redrawn into RGBA first so paletted and YCbCr
// images normalize to the same 3-channel layout.
func DecodeFile(path string) (*Raster, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("codec: opening %s: %w", path, err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("codec: decoding %s: %w", path, err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("codec: %s decoded to empty image", path)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)

	// Strip the alpha channel: RGBA (4 bytes/pixel) to RGB (3 bytes/pixel).
	data := make([]byte, width*height*3)
	for i := 0; i < width*height; i++ {
		data[i*3+0] = rgba.Pix[i*4+0] // R
		data[i*3+1] = rgba.Pix[i*4+1] // G
		data[i*3+2] = rgba.Pix[i*4+2] // B
	}

	return &Raster{
		Width:  width,
		Height: height,
		Step:   width * 3,
		Data:   data,
	}, nil
}

// EncodePNG compresses a raster to PNG bytes.
//
// level is the 0-9 scale from configuration: 0 is fastest/largest, 9 is
// slowest/smallest. The stdlib encoder exposes four bands, so the scale is
// mapped onto them; out-of-range values clamp to the nearest band.
func EncodePNG(r *Raster, level int) ([]byte, error) {
	img, err := ToImage(r)
	if err != nil {
		return nil, err
	}

	enc := png.Encoder{CompressionLevel: compressionLevel(level)}

	var buf bytes.Buffer
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("codec: png encode: %w", err)
	}

	return buf.Bytes(), nil
}

// ToImage converts a raster back to image.RGBA (alpha = 255, fully opaque).
//
// Returns an error if the raster buffer is inconsistent with its declared
// dimensions.
func ToImage(r *Raster) (*image.RGBA, error) {
	if r.Width <= 0 || r.Height <= 0 {
		return nil, fmt.Errorf("codec: invalid raster dimensions %dx%d", r.Width, r.Height)
	}
	if r.Step != r.Width*3 {
		return nil, fmt.Errorf("codec: invalid raster step %d for width %d", r.Step, r.Width)
	}
	if len(r.Data) != r.Height*r.Step {
		return nil, fmt.Errorf("codec: invalid raster data length %d (want %d)",
			len(r.Data), r.Height*r.Step)
	}

	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	for i := 0; i < r.Width*r.Height; i++ {
		img.Pix[i*4+0] = r.Data[i*3+0] // R
		img.Pix[i*4+1] = r.Data[i*3+1] // G
		img.Pix[i*4+2] = r.Data[i*3+2] // B
		img.Pix[i*4+3] = 255           // A (opaque)
	}

	return img, nil
}

// compressionLevel maps the 0-9 configuration scale onto the stdlib bands.
func compressionLevel(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level <= 6:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}
