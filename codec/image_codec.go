package codec

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"os"

	"golang.org/x/image/draw"
	"golang.org/x/xerrors"
)

// ImageCodec implements Codec for JPEG and PNG images. Decoded images
// larger than the given hints are scaled down, preserving aspect ratio.
type ImageCodec struct {
	format  Format
	quality int
}

// NewImageCodec creates a new ImageCodec with the given target format
// and quality. Quality only applies to lossy formats; zero values take
// the defaults.
func NewImageCodec(format Format, quality int) *ImageCodec {
	if len(format) == 0 {
		format = DefaultFormat
	}
	if quality <= 0 {
		quality = DefaultQuality
	}

	return &ImageCodec{
		format:  format,
		quality: quality,
	}
}

// GetFormat returns the target compression format
func (codec *ImageCodec) GetFormat() Format {
	return codec.format
}

// GetQuality returns the target compression quality
func (codec *ImageCodec) GetQuality() int {
	return codec.quality
}

// Encode compresses the image under the configured format and quality
func (codec *ImageCodec) Encode(value image.Image) ([]byte, error) {
	buffer := &bytes.Buffer{}

	switch codec.format {
	case FormatJPEG:
		err := jpeg.Encode(buffer, value, &jpeg.Options{Quality: codec.quality})
		if err != nil {
			return nil, xerrors.Errorf("failed to encode image to jpeg: %w", err)
		}
	case FormatPNG:
		err := png.Encode(buffer, value)
		if err != nil {
			return nil, xerrors.Errorf("failed to encode image to png: %w", err)
		}
	default:
		return nil, xerrors.Errorf("unknown compression format %q", codec.format)
	}

	return buffer.Bytes(), nil
}

// Decode decodes image bytes, scaling down to the given bounds
func (codec *ImageCodec) Decode(data []byte, widthHint int, heightHint int) (image.Image, error) {
	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, xerrors.Errorf("failed to decode image: %w", err)
	}

	return scaleToFit(decoded, widthHint, heightHint), nil
}

// DecodeFile decodes an image file, scaling down to the given bounds
func (codec *ImageCodec) DecodeFile(path string, widthHint int, heightHint int) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to open image file %s: %w", path, err)
	}
	defer f.Close()

	decoded, _, err := image.Decode(f)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode image file %s: %w", path, err)
	}

	return scaleToFit(decoded, widthHint, heightHint), nil
}

// scaleToFit scales the image down so it fits within the given bounds.
// Images already within bounds, and non-positive bounds, pass through.
func scaleToFit(src image.Image, widthHint int, heightHint int) image.Image {
	if widthHint <= 0 && heightHint <= 0 {
		return src
	}

	bounds := src.Bounds()
	srcWidth := bounds.Dx()
	srcHeight := bounds.Dy()
	if srcWidth <= 0 || srcHeight <= 0 {
		return src
	}

	scale := 1.0
	if widthHint > 0 && srcWidth > widthHint {
		scale = float64(widthHint) / float64(srcWidth)
	}
	if heightHint > 0 && srcHeight > heightHint {
		heightScale := float64(heightHint) / float64(srcHeight)
		if heightScale < scale {
			scale = heightScale
		}
	}

	if scale >= 1.0 {
		return src
	}

	dstWidth := int(float64(srcWidth) * scale)
	dstHeight := int(float64(srcHeight) * scale)
	if dstWidth < 1 {
		dstWidth = 1
	}
	if dstHeight < 1 {
		dstHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstWidth, dstHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}
