package imageprocessor

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultMIMEType is used when the decoder reports a format outside mimeTypes.
const DefaultMIMEType = "image/jpeg"

// ErrEmptyImage is returned for zero-length payloads.
var ErrEmptyImage = errors.New("empty image payload")

var mimeTypes = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"bmp":  "image/bmp",
	"tiff": "image/tiff",
}

// ValidationError reports bytes that do not form a decodable image.
type ValidationError struct {
	Err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid image: %v", e.Err)
}

// Unwrap returns the decoder error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Image is a structurally verified image payload.
type Image struct {
	Bytes    []byte
	Format   string
	MIMEType string
	Width    int
	Height   int
}

// Size is the encoded payload length in bytes.
func (img *Image) Size() int {
	return len(img.Bytes)
}

// DataURI encodes the payload inline as data:<mime>;base64,<payload>.
func (img *Image) DataURI() string {
	return "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Bytes)
}

// Validate checks that raw decodes as a supported raster image. Only the header
// and dimensions are read; pixel data is not decoded.
func Validate(raw []byte) (*Image, error) {
	if len(raw) == 0 {
		return nil, &ValidationError{Err: ErrEmptyImage}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, &ValidationError{Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &ValidationError{Err: fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)}
	}

	return &Image{
		Bytes:    raw,
		Format:   format,
		MIMEType: MIMEType(format),
		Width:    cfg.Width,
		Height:   cfg.Height,
	}, nil
}

// MIMEType maps a decoder format name to its MIME type.
func MIMEType(format string) string {
	if mime, ok := mimeTypes[format]; ok {
		return mime
	}
	return DefaultMIMEType
}
