// Package testutil provides shared test fixtures, most notably JPEG images
// carrying a hand-assembled EXIF block so the metadata-populated paths can be
// exercised without binary files checked into the repository.
package testutil

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/require"
)

// EXIFInfo describes the descriptive metadata to embed in a fixture image.
// Coordinates are split into degrees and minutes because that is how the GPS
// IFD stores them; seconds are always zero. Model must be longer than three
// characters: shorter values would be stored inline in the TIFF entry, which
// the fixed layout below does not do.
type EXIFInfo struct {
	Model            string
	DateTimeOriginal string // EXIF layout, e.g. "2023:07:15 12:30:00"
	LatDeg, LatMin   uint32
	LonDeg, LonMin   uint32
}

// EncodeJPEG renders a plain JPEG of the given size with no EXIF block.
func EncodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// EncodeJPEGWithEXIF renders a JPEG of the given size and splices an APP1
// EXIF segment carrying the model, capture time and GPS position right after
// the SOI marker.
func EncodeJPEGWithEXIF(t *testing.T, width, height int, info EXIFInfo) []byte {
	t.Helper()
	plain := EncodeJPEG(t, width, height)

	payload := append([]byte("Exif\x00\x00"), buildTIFF(info)...)
	app1 := make([]byte, 0, len(payload)+4)
	app1 = append(app1, 0xFF, 0xE1)
	app1 = binary.BigEndian.AppendUint16(app1, uint16(len(payload)+2))
	app1 = append(app1, payload...)

	// SOI, then APP1, then the rest of the original stream.
	out := make([]byte, 0, len(plain)+len(app1))
	out = append(out, plain[:2]...)
	out = append(out, app1...)
	out = append(out, plain[2:]...)
	return out
}

// buildTIFF assembles a little-endian TIFF structure: IFD0 with the camera
// model and pointers to an Exif sub-IFD (capture time) and a GPS sub-IFD
// (latitude/longitude as degree/minute/second rationals).
func buildTIFF(info EXIFInfo) []byte {
	const (
		typeASCII    = 2
		typeLong     = 4
		typeRational = 5

		tagModel            = 0x0110
		tagExifIFDPointer   = 0x8769
		tagGPSIFDPointer    = 0x8825
		tagDateTimeOriginal = 0x9003
		tagGPSLatitudeRef   = 0x0001
		tagGPSLatitude      = 0x0002
		tagGPSLongitudeRef  = 0x0003
		tagGPSLongitude     = 0x0004
	)

	model := append([]byte(info.Model), 0)
	datetime := append([]byte(info.DateTimeOriginal), 0)

	// Fixed layout, offsets relative to the TIFF header start.
	ifd0Offset := uint32(8)
	ifd0Size := uint32(2 + 3*12 + 4)
	modelOffset := ifd0Offset + ifd0Size
	exifIFDOffset := modelOffset + uint32(len(model))
	exifIFDSize := uint32(2 + 1*12 + 4)
	datetimeOffset := exifIFDOffset + exifIFDSize
	gpsIFDOffset := datetimeOffset + uint32(len(datetime))
	gpsIFDSize := uint32(2 + 4*12 + 4)
	latOffset := gpsIFDOffset + gpsIFDSize
	lonOffset := latOffset + 24

	var buf bytes.Buffer
	le := binary.LittleEndian

	u16 := func(v uint16) {
		b := make([]byte, 2)
		le.PutUint16(b, v)
		buf.Write(b)
	}
	u32 := func(v uint32) {
		b := make([]byte, 4)
		le.PutUint32(b, v)
		buf.Write(b)
	}
	entry := func(tag, typ uint16, count, value uint32) {
		u16(tag)
		u16(typ)
		u32(count)
		u32(value)
	}
	inlineASCII := func(tag uint16, s string) {
		u16(tag)
		u16(typeASCII)
		u32(uint32(len(s) + 1))
		field := make([]byte, 4)
		copy(field, s)
		buf.Write(field)
	}
	rational := func(num, den uint32) {
		u32(num)
		u32(den)
	}

	// Header
	buf.WriteString("II")
	u16(42)
	u32(ifd0Offset)

	// IFD0
	u16(3)
	entry(tagModel, typeASCII, uint32(len(model)), modelOffset)
	entry(tagExifIFDPointer, typeLong, 1, exifIFDOffset)
	entry(tagGPSIFDPointer, typeLong, 1, gpsIFDOffset)
	u32(0)

	buf.Write(model)

	// Exif sub-IFD
	u16(1)
	entry(tagDateTimeOriginal, typeASCII, uint32(len(datetime)), datetimeOffset)
	u32(0)

	buf.Write(datetime)

	// GPS sub-IFD
	u16(4)
	inlineASCII(tagGPSLatitudeRef, "N")
	entry(tagGPSLatitude, typeRational, 3, latOffset)
	inlineASCII(tagGPSLongitudeRef, "E")
	entry(tagGPSLongitude, typeRational, 3, lonOffset)
	u32(0)

	rational(info.LatDeg, 1)
	rational(info.LatMin, 1)
	rational(0, 1)
	rational(info.LonDeg, 1)
	rational(info.LonMin, 1)
	rational(0, 1)

	return buf.Bytes()
}
