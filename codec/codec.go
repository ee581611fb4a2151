package codec

import (
	"image"
)

// Format is an image compression format used for encoded cache entries.
type Format string

const (
	// FormatPNG compresses losslessly, ignoring quality.
	FormatPNG Format = "png"
	// FormatJPEG compresses lossily using the configured quality.
	FormatJPEG Format = "jpeg"

	// DefaultFormat is the compression format used when none is chosen.
	DefaultFormat = FormatPNG
	// DefaultQuality is the compression quality used when none is chosen.
	DefaultQuality = 85
)

// Decoder turns encoded image bytes back into values. A non-positive
// width or height hint means no bound on that axis.
type Decoder interface {
	Decode(data []byte, widthHint int, heightHint int) (image.Image, error)
	DecodeFile(path string, widthHint int, heightHint int) (image.Image, error)
}

// Encoder turns values into encoded image bytes.
type Encoder interface {
	Encode(value image.Image) ([]byte, error)
}

// Codec encodes and decodes cache values.
type Codec interface {
	Decoder
	Encoder
}
