/**
 * Image Preprocessor - normalizes recipe photos for OCR
 *
 * Validates format and size, applies EXIF orientation, bounds the longest
 * edge, converts to grayscale and stretches contrast. The output is a PNG
 * that this stage returns unchanged when it sees it again.
 */

package processor

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
	"golang.org/x/image/webp"

	"github.com/adverant/nexus/recipe-extractor/internal/errors"
)

// PreprocessorConfig holds preprocessing limits
type PreprocessorConfig struct {
	MaxBytes     int64
	MaxDimension int
	// MaxPixels bounds width*height before the full decode.
	MaxPixels int64
}

// Preprocessor prepares raw images for text extraction
type Preprocessor struct {
	maxBytes     int64
	maxDimension int
	maxPixels    int64
}

// DefaultMaxPixels admits photos up to 50 megapixels
const DefaultMaxPixels = 50_000_000

// NewPreprocessor creates a preprocessor, falling back to 2MB / 2000px / 50MP limits
func NewPreprocessor(cfg PreprocessorConfig) *Preprocessor {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 2 * 1024 * 1024
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = 2000
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = DefaultMaxPixels
	}
	return &Preprocessor{maxBytes: cfg.MaxBytes, maxDimension: cfg.MaxDimension, maxPixels: cfg.MaxPixels}
}

// MaxBytes returns the configured byte ceiling
func (p *Preprocessor) MaxBytes() int64 {
	return p.maxBytes
}

// Preprocess validates and normalizes a raw image
func (p *Preprocessor) Preprocess(ctx context.Context, raw RawImage) (*PreprocessedImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	declared := ResolveMimeType(raw.MimeType, raw.Data)
	if !IsAllowedMimeType(declared) {
		return nil, errors.NewUnsupportedFormatError(displayMime(declared), nil)
	}

	if int64(len(raw.Data)) > p.maxBytes {
		return nil, errors.NewImageTooLargeError(int64(len(raw.Data)), p.maxBytes)
	}

	// The declaration can lie; the content has to be an allowed format too.
	actual := DetectMimeTypeFromMagicBytes(raw.Data)
	if !IsAllowedMimeType(actual) {
		return nil, errors.NewUnsupportedFormatError(displayMime(actual), nil)
	}

	// Compressed size says little about decoded size; check the header first.
	header, err := decodeImageConfig(actual, raw.Data)
	if err != nil {
		return nil, errors.NewUnsupportedFormatError(actual, err)
	}
	if int64(header.Width)*int64(header.Height) > p.maxPixels {
		return nil, errors.NewImageDimensionsTooLargeError(header.Width, header.Height, p.maxPixels)
	}

	src, err := decodeImage(actual, raw.Data)
	if err != nil {
		return nil, errors.NewUnsupportedFormatError(actual, err)
	}

	orientation := readOrientation(actual, raw.Data)
	bounds := src.Bounds()

	if gray, ok := src.(*image.Gray); ok && actual == MimePNG && orientation == 1 &&
		longestEdge(bounds) <= p.maxDimension && contrastIsNormalized(gray) {
		return &PreprocessedImage{
			Data:     raw.Data,
			MimeType: MimePNG,
			Width:    bounds.Dx(),
			Height:   bounds.Dy(),
		}, nil
	}

	gray := toGray(src)
	gray = applyOrientation(gray, orientation)
	gray = p.resize(gray)
	stretchContrast(gray)

	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, fmt.Errorf("failed to encode preprocessed image: %w", err)
	}

	return &PreprocessedImage{
		Data:     buf.Bytes(),
		MimeType: MimePNG,
		Width:    gray.Bounds().Dx(),
		Height:   gray.Bounds().Dy(),
	}, nil
}

func displayMime(mt string) string {
	if mt == "" {
		return "unknown"
	}
	return mt
}

func decodeImageConfig(mimeType string, data []byte) (image.Config, error) {
	r := bytes.NewReader(data)
	switch mimeType {
	case MimeJPEG:
		return jpeg.DecodeConfig(r)
	case MimePNG:
		return png.DecodeConfig(r)
	case MimeWEBP:
		return webp.DecodeConfig(r)
	}
	return image.Config{}, fmt.Errorf("no decoder for %s", mimeType)
}

func decodeImage(mimeType string, data []byte) (image.Image, error) {
	r := bytes.NewReader(data)
	switch mimeType {
	case MimeJPEG:
		return jpeg.Decode(r)
	case MimePNG:
		return png.Decode(r)
	case MimeWEBP:
		return webp.Decode(r)
	}
	return nil, fmt.Errorf("no decoder for %s", mimeType)
}

// readOrientation returns the EXIF orientation (1..8), 1 when absent.
func readOrientation(mimeType string, data []byte) int {
	var payload []byte
	switch mimeType {
	case MimeJPEG:
		payload = data
	case MimeWEBP:
		payload = webpExifPayload(data)
	}
	if len(payload) == 0 {
		return 1
	}

	x, err := exif.Decode(bytes.NewReader(payload))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	o, err := tag.Int(0)
	if err != nil || o < 1 || o > 8 {
		return 1
	}
	return o
}

// webpExifPayload returns the TIFF data of a WebP EXIF chunk, if any.
func webpExifPayload(data []byte) []byte {
	if len(data) < 12 {
		return nil
	}
	off := 12
	for off+8 <= len(data) {
		fourCC := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		start := off + 8
		if size < 0 || start+size > len(data) {
			return nil
		}
		if fourCC == "EXIF" {
			chunk := data[start : start+size]
			return bytes.TrimPrefix(chunk, []byte("Exif\x00\x00"))
		}
		off = start + size + size%2
	}
	return nil
}

func longestEdge(r image.Rectangle) int {
	if r.Dx() > r.Dy() {
		return r.Dx()
	}
	return r.Dy()
}

func toGray(src image.Image) *image.Gray {
	b := src.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), src, b.Min, draw.Src)
	return gray
}

// applyOrientation maps EXIF orientation values onto pixel transforms.
func applyOrientation(src *image.Gray, orientation int) *image.Gray {
	if orientation <= 1 || orientation > 8 {
		return src
	}
	w, h := src.Bounds().Dx(), src.Bounds().Dy()

	dw, dh := w, h
	if orientation >= 5 {
		dw, dh = h, w
	}
	dst := image.NewGray(image.Rect(0, 0, dw, dh))

	for y := 0; y < dh; y++ {
		for x := 0; x < dw; x++ {
			var sx, sy int
			switch orientation {
			case 2: // mirror horizontal
				sx, sy = w-1-x, y
			case 3: // rotate 180
				sx, sy = w-1-x, h-1-y
			case 4: // mirror vertical
				sx, sy = x, h-1-y
			case 5: // transpose
				sx, sy = y, x
			case 6: // rotate 90 clockwise
				sx, sy = y, h-1-x
			case 7: // transverse
				sx, sy = w-1-y, h-1-x
			case 8: // rotate 90 counter-clockwise
				sx, sy = w-1-y, x
			}
			dst.Pix[y*dst.Stride+x] = src.Pix[sy*src.Stride+sx]
		}
	}
	return dst
}

func (p *Preprocessor) resize(src *image.Gray) *image.Gray {
	b := src.Bounds()
	longest := longestEdge(b)
	if longest <= p.maxDimension {
		return src
	}

	scale := float64(p.maxDimension) / float64(longest)
	nw := int(math.Max(1, math.Round(float64(b.Dx())*scale)))
	nh := int(math.Max(1, math.Round(float64(b.Dy())*scale)))
	if nw > p.maxDimension {
		nw = p.maxDimension
	}
	if nh > p.maxDimension {
		nh = p.maxDimension
	}

	dst := image.NewGray(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

func grayRange(img *image.Gray) (lo, hi uint8) {
	lo, hi = 255, 0
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()]
		for _, v := range row {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	return lo, hi
}

func contrastIsNormalized(img *image.Gray) bool {
	lo, hi := grayRange(img)
	return hi <= lo || (lo == 0 && hi == 255)
}

// stretchContrast maps the darkest pixel to 0 and the brightest to 255.
func stretchContrast(img *image.Gray) {
	lo, hi := grayRange(img)
	if hi <= lo || (lo == 0 && hi == 255) {
		return
	}
	span := int(hi) - int(lo)
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()]
		for i, v := range row {
			row[i] = uint8(((int(v)-int(lo))*255 + span/2) / span)
		}
	}
}
