package metadata

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkoskela/imagevault-go/internal/errors"
	"github.com/tkoskela/imagevault-go/internal/testutil"
)

func encodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExtractIntrinsic(t *testing.T) {
	e := NewExtractor(discardLogger())

	tests := []struct {
		name       string
		data       []byte
		wantWidth  int
		wantHeight int
		wantFormat string
	}{
		{name: "jpeg", data: encodeJPEG(t, 320, 240), wantWidth: 320, wantHeight: 240, wantFormat: "jpeg"},
		{name: "png", data: encodePNG(t, 64, 128), wantWidth: 64, wantHeight: 128, wantFormat: "png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md, err := e.Extract(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.wantWidth, md.Width)
			assert.Equal(t, tt.wantHeight, md.Height)
			assert.Equal(t, tt.wantFormat, md.Format)
		})
	}
}

func TestExtractRejectsNonImage(t *testing.T) {
	e := NewExtractor(discardLogger())

	_, err := e.Extract([]byte("definitely not an image"))
	require.Error(t, err)
	assert.True(t, errors.IsUnsupportedMedia(err))

	_, err = e.Extract(nil)
	assert.True(t, errors.IsUnsupportedMedia(err))
}

func TestExtractDescriptiveFromEXIF(t *testing.T) {
	e := NewExtractor(discardLogger())

	data := testutil.EncodeJPEGWithEXIF(t, 320, 240, testutil.EXIFInfo{
		Model:            "Canon PowerShot",
		DateTimeOriginal: "2023:07:15 12:30:00",
		LatDeg:           60, LatMin: 30,
		LonDeg: 24, LonMin: 45,
	})

	md, err := e.Extract(data)
	require.NoError(t, err)

	// Intrinsic properties come from the raster, untouched by the EXIF block.
	assert.Equal(t, 320, md.Width)
	assert.Equal(t, 240, md.Height)
	assert.Equal(t, "jpeg", md.Format)

	require.NotNil(t, md.TakenTime)
	assert.Equal(t, 2023, md.TakenTime.Year())
	assert.Equal(t, time.July, md.TakenTime.Month())
	assert.Equal(t, 15, md.TakenTime.Day())

	require.NotNil(t, md.CameraModel)
	assert.Equal(t, "Canon PowerShot", *md.CameraModel)

	require.NotNil(t, md.GPSLatitude)
	require.NotNil(t, md.GPSLongitude)
	assert.InDelta(t, 60.5, *md.GPSLatitude, 1e-6)
	assert.InDelta(t, 24.75, *md.GPSLongitude, 1e-6)
}

func TestExtractDescriptiveIsBestEffort(t *testing.T) {
	e := NewExtractor(discardLogger())

	// A plain encoded JPEG carries no EXIF block; extraction must still
	// succeed with all descriptive fields nil.
	md, err := e.Extract(encodeJPEG(t, 100, 100))
	require.NoError(t, err)
	assert.Nil(t, md.TakenTime)
	assert.Nil(t, md.CameraModel)
	assert.Nil(t, md.GPSLatitude)
	assert.Nil(t, md.GPSLongitude)
}
