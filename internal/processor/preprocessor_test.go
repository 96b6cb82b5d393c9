package processor

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/recipe-extractor/internal/errors"
)

func gradientImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(60 + (x*120)/w)
			img.Set(x, y, color.RGBA{R: v, G: v / 2, B: 200 - v/2, A: 255})
		}
	}
	return img
}

func noiseImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	seed := uint32(7)
	for i := range img.Pix {
		seed = seed*1664525 + 1013904223
		img.Pix[i] = uint8(seed >> 24)
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

// pngHeaderOnly returns a PNG signature and IHDR chunk declaring an 8-bit
// grayscale image of the given size, with no pixel data behind it.
func pngHeaderOnly(width, height uint32) []byte {
	var ihdr bytes.Buffer
	ihdr.WriteString("IHDR")
	binary.Write(&ihdr, binary.BigEndian, width)
	binary.Write(&ihdr, binary.BigEndian, height)
	ihdr.Write([]byte{8, 0, 0, 0, 0}) // depth, gray, deflate, adaptive, no interlace

	var out bytes.Buffer
	out.Write([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})
	binary.Write(&out, binary.BigEndian, uint32(ihdr.Len()-4))
	out.Write(ihdr.Bytes())
	binary.Write(&out, binary.BigEndian, crc32.ChecksumIEEE(ihdr.Bytes()))
	return out.Bytes()
}

// withOrientation inserts a minimal EXIF APP1 segment right after the JPEG SOI marker.
func withOrientation(t *testing.T, jpg []byte, orientation uint16) []byte {
	t.Helper()
	var tiff bytes.Buffer
	tiff.WriteString("MM")
	binary.Write(&tiff, binary.BigEndian, uint16(42))
	binary.Write(&tiff, binary.BigEndian, uint32(8))
	binary.Write(&tiff, binary.BigEndian, uint16(1))      // one IFD entry
	binary.Write(&tiff, binary.BigEndian, uint16(0x0112)) // Orientation
	binary.Write(&tiff, binary.BigEndian, uint16(3))      // SHORT
	binary.Write(&tiff, binary.BigEndian, uint32(1))
	binary.Write(&tiff, binary.BigEndian, orientation)
	binary.Write(&tiff, binary.BigEndian, uint16(0))
	binary.Write(&tiff, binary.BigEndian, uint32(0)) // no next IFD

	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)
	var seg bytes.Buffer
	seg.Write([]byte{0xFF, 0xE1})
	binary.Write(&seg, binary.BigEndian, uint16(len(payload)+2))
	seg.Write(payload)

	out := append([]byte{}, jpg[:2]...)
	out = append(out, seg.Bytes()...)
	return append(out, jpg[2:]...)
}

func TestPreprocessBoundsLongestEdge(t *testing.T) {
	p := NewPreprocessor(PreprocessorConfig{MaxBytes: 4 << 20, MaxDimension: 100})

	tests := []struct {
		name string
		data []byte
		mime string
	}{
		{"png landscape", encodePNG(t, gradientImage(400, 120)), "image/png"},
		{"jpeg portrait", encodeJPEG(t, gradientImage(90, 300)), "image/jpeg"},
		{"already small", encodePNG(t, gradientImage(40, 30)), "image/png"},
		{"webp lossless", readFixture(t, "gopher.lossless.webp"), "image/webp"},
		{"webp lossy landscape", readFixture(t, "rose.lossy.webp"), "image/webp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := p.Preprocess(context.Background(), RawImage{Data: tt.data, MimeType: tt.mime})
			require.NoError(t, err)

			assert.Equal(t, MimePNG, out.MimeType)
			assert.LessOrEqual(t, out.Width, 100)
			assert.LessOrEqual(t, out.Height, 100)

			decoded, err := png.Decode(bytes.NewReader(out.Data))
			require.NoError(t, err)
			assert.Equal(t, out.Width, decoded.Bounds().Dx())
			assert.Equal(t, out.Height, decoded.Bounds().Dy())
		})
	}
}

func TestPreprocessDecodesWebp(t *testing.T) {
	p := NewPreprocessor(PreprocessorConfig{MaxDimension: 200})

	out, err := p.Preprocess(context.Background(), RawImage{Data: readFixture(t, "rose.lossy.webp"), MimeType: "image/webp"})
	require.NoError(t, err)

	assert.Equal(t, MimePNG, out.MimeType)
	assert.Equal(t, 200, out.Width)
	assert.Equal(t, 151, out.Height)

	decoded, err := png.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)
	_, isGray := decoded.(*image.Gray)
	assert.True(t, isGray)
}

func TestPreprocessRejectsOversizedPixelCount(t *testing.T) {
	p := NewPreprocessor(PreprocessorConfig{})

	header := pngHeaderOnly(12000, 12000)
	require.Less(t, len(header), 64)

	_, err := p.Preprocess(context.Background(), RawImage{Data: header, MimeType: "image/png"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrorImageTooLarge, errors.KindOf(err))

	pe, ok := errors.AsPipelineError(err)
	require.True(t, ok)
	assert.Equal(t, 12000, pe.Details["width"])
	assert.Equal(t, int64(DefaultMaxPixels), pe.Details["limit_pixels"])
}

func TestPreprocessPixelLimitIsConfigurable(t *testing.T) {
	p := NewPreprocessor(PreprocessorConfig{MaxPixels: 100_000})

	tests := []struct {
		name string
		data []byte
		mime string
	}{
		{"png", encodePNG(t, gradientImage(400, 300)), "image/png"},
		{"jpeg", encodeJPEG(t, gradientImage(400, 300)), "image/jpeg"},
		{"webp", readFixture(t, "rose.lossy.webp"), "image/webp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Preprocess(context.Background(), RawImage{Data: tt.data, MimeType: tt.mime})
			assert.Equal(t, errors.ErrorImageTooLarge, errors.KindOf(err))
		})
	}

	out, err := p.Preprocess(context.Background(), RawImage{Data: encodePNG(t, gradientImage(300, 300)), MimeType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, 300, out.Width)
}

func TestPreprocessKeepsAspectRatio(t *testing.T) {
	p := NewPreprocessor(PreprocessorConfig{MaxDimension: 100})

	out, err := p.Preprocess(context.Background(), RawImage{Data: encodePNG(t, gradientImage(400, 200)), MimeType: "image/png"})
	require.NoError(t, err)

	assert.Equal(t, 100, out.Width)
	assert.Equal(t, 50, out.Height)
}

func TestPreprocessIsIdempotent(t *testing.T) {
	p := NewPreprocessor(PreprocessorConfig{MaxDimension: 64})

	first, err := p.Preprocess(context.Background(), RawImage{Data: encodeJPEG(t, gradientImage(200, 80)), MimeType: "image/jpeg"})
	require.NoError(t, err)

	second, err := p.Preprocess(context.Background(), RawImage{Data: first.Data, MimeType: first.MimeType})
	require.NoError(t, err)

	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, first.Width, second.Width)
	assert.Equal(t, first.Height, second.Height)
}

func TestPreprocessAppliesExifOrientation(t *testing.T) {
	p := NewPreprocessor(PreprocessorConfig{})
	jpg := withOrientation(t, encodeJPEG(t, gradientImage(40, 20)), 6)

	out, err := p.Preprocess(context.Background(), RawImage{Data: jpg, MimeType: "image/jpeg"})
	require.NoError(t, err)

	assert.Equal(t, 20, out.Width)
	assert.Equal(t, 40, out.Height)
}

func TestPreprocessStretchesContrast(t *testing.T) {
	p := NewPreprocessor(PreprocessorConfig{})

	out, err := p.Preprocess(context.Background(), RawImage{Data: encodePNG(t, gradientImage(50, 10)), MimeType: "image/png"})
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)
	gray, ok := decoded.(*image.Gray)
	require.True(t, ok)

	lo, hi := grayRange(gray)
	assert.Equal(t, uint8(0), lo)
	assert.Equal(t, uint8(255), hi)
}

func TestPreprocessRejects(t *testing.T) {
	p := NewPreprocessor(PreprocessorConfig{MaxBytes: 2048})
	small := encodePNG(t, gradientImage(8, 8))
	large := encodePNG(t, noiseImage(300, 300))
	require.Greater(t, len(large), 2048)

	tests := []struct {
		name string
		raw  RawImage
		want errors.ErrorKind
	}{
		{"gif declared", RawImage{Data: []byte("GIF89a......"), MimeType: "image/gif"}, errors.ErrorUnsupportedFormat},
		{"gif sniffed", RawImage{Data: []byte("GIF89a......"), MimeType: ""}, errors.ErrorUnsupportedFormat},
		{"declared png but pdf content", RawImage{Data: []byte("%PDF-1.7 ...."), MimeType: "image/png"}, errors.ErrorUnsupportedFormat},
		{"truncated png", RawImage{Data: small[:20], MimeType: "image/png"}, errors.ErrorUnsupportedFormat},
		{"too large", RawImage{Data: large, MimeType: "image/png"}, errors.ErrorImageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Preprocess(context.Background(), tt.raw)
			require.Error(t, err)
			assert.Equal(t, tt.want, errors.KindOf(err))
		})
	}
}

func TestApplyOrientation(t *testing.T) {
	// 3x2 image with distinct pixel values:
	// 1 2 3
	// 4 5 6
	src := image.NewGray(image.Rect(0, 0, 3, 2))
	copy(src.Pix, []uint8{1, 2, 3, 4, 5, 6})

	tests := []struct {
		orientation int
		w, h        int
		want        []uint8
	}{
		{1, 3, 2, []uint8{1, 2, 3, 4, 5, 6}},
		{2, 3, 2, []uint8{3, 2, 1, 6, 5, 4}},
		{3, 3, 2, []uint8{6, 5, 4, 3, 2, 1}},
		{4, 3, 2, []uint8{4, 5, 6, 1, 2, 3}},
		{5, 2, 3, []uint8{1, 4, 2, 5, 3, 6}},
		{6, 2, 3, []uint8{4, 1, 5, 2, 6, 3}},
		{7, 2, 3, []uint8{6, 3, 5, 2, 4, 1}},
		{8, 2, 3, []uint8{3, 6, 2, 5, 1, 4}},
	}

	for _, tt := range tests {
		out := applyOrientation(src, tt.orientation)
		assert.Equal(t, tt.w, out.Bounds().Dx(), "orientation %d width", tt.orientation)
		assert.Equal(t, tt.h, out.Bounds().Dy(), "orientation %d height", tt.orientation)
		assert.Equal(t, tt.want, out.Pix, "orientation %d pixels", tt.orientation)
	}
}

func TestWebpExifPayload(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	buf.WriteString("WEBP")
	buf.WriteString("VP8X")
	binary.Write(&buf, binary.LittleEndian, uint32(3))
	buf.Write([]byte{0, 0, 0, 0}) // 3 bytes + pad
	buf.WriteString("EXIF")
	binary.Write(&buf, binary.LittleEndian, uint32(4))
	buf.WriteString("MM\x00*")

	assert.Equal(t, []byte("MM\x00*"), webpExifPayload(buf.Bytes()))
	assert.Nil(t, webpExifPayload([]byte("RIFF")))
}

func TestDetectMimeType(t *testing.T) {
	assert.Equal(t, MimePNG, DetectMimeTypeFromMagicBytes(encodePNG(t, gradientImage(2, 2))))
	assert.Equal(t, MimeJPEG, DetectMimeTypeFromMagicBytes(encodeJPEG(t, gradientImage(2, 2))))
	assert.Equal(t, MimeWEBP, DetectMimeTypeFromMagicBytes([]byte("RIFF\x00\x00\x00\x00WEBPVP8 ")))
	assert.Equal(t, "", DetectMimeTypeFromMagicBytes([]byte("ab")))

	assert.Equal(t, MimeJPEG, NormalizeMimeType("Image/JPG"))
	assert.Equal(t, MimePNG, NormalizeMimeType("image/png; charset=binary"))
	assert.Equal(t, MimePNG, ResolveMimeType("application/octet-stream", encodePNG(t, gradientImage(2, 2))))
}
