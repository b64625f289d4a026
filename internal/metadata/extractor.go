// Package metadata extracts intrinsic and embedded metadata from image bytes.
package metadata

import (
	"bytes"
	"image"
	"log/slog"
	"strings"
	"time"

	// Register decoders for the supported upload formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/tkoskela/imagevault-go/internal/errors"
	"github.com/tkoskela/imagevault-go/internal/logging"
)

// Metadata holds everything extraction could determine about an image.
// Width, Height and Format are always set on success; the descriptive fields
// are best-effort and nil when the file carries no usable EXIF data.
type Metadata struct {
	Width  int
	Height int
	Format string // "jpeg", "png", "gif"

	TakenTime    *time.Time
	CameraModel  *string
	GPSLatitude  *float64
	GPSLongitude *float64
}

// Extractor reads raster properties and embedded capture metadata.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor creates an extractor. A nil logger falls back to the service
// logger.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = logging.ForService("metadata")
	}
	return &Extractor{logger: logger}
}

// Extract reads intrinsic raster properties and, best-effort, the embedded
// capture metadata. An undecodable image is a hard failure; missing or broken
// EXIF data only leaves the descriptive fields nil.
func (e *Extractor) Extract(data []byte) (Metadata, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Metadata{}, errors.New(err).
			Component("metadata").
			Category(errors.CategoryUnsupportedMedia).
			Context("size_bytes", len(data)).
			Build()
	}

	md := Metadata{
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: format,
	}

	// Descriptive metadata is never allowed to fail the extraction.
	e.extractDescriptive(data, &md)

	return md, nil
}

// extractDescriptive fills the EXIF-derived fields. Any error is logged as a
// warning and the corresponding fields stay nil.
func (e *Extractor) extractDescriptive(data []byte, md *Metadata) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		e.logger.Warn("no usable embedded metadata", "error", err)
		return
	}

	if taken, err := x.DateTime(); err == nil {
		md.TakenTime = &taken
	}

	if model := exifString(x, exif.Model); model != "" {
		md.CameraModel = &model
	} else if maker := exifString(x, exif.Make); maker != "" {
		md.CameraModel = &maker
	}

	// GPS fields are only ever populated as a pair.
	lat, lon, err := x.LatLong()
	if err == nil {
		md.GPSLatitude = &lat
		md.GPSLongitude = &lon
	}
}

// exifString reads a string field, trimming the NUL padding some cameras
// write.
func exifString(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	value, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.Trim(strings.TrimSpace(value), "\x00")
}
