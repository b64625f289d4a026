// Package derive produces derivative image files: the bounded thumbnail made
// at ingestion and the cropped/adjusted variants made by mutations. Every
// operation is pure with respect to its inputs; persisting the result is the
// orchestrator's job.
package derive

import (
	"bytes"
	"image"
	"image/color"
	"log/slog"

	"github.com/disintegration/imaging"

	"github.com/tkoskela/imagevault-go/internal/errors"
	"github.com/tkoskela/imagevault-go/internal/logging"
)

// Tonal adjustment parameters run 0-200 with 100 meaning "no change".
const (
	AdjustMin     = 0
	AdjustMax     = 200
	AdjustNeutral = 100

	// contrastMidpoint is the gray value left invariant by the contrast
	// transform output = a*(input-midpoint)+midpoint.
	contrastMidpoint = 128
)

// Region is a pixel rectangle inside the source image.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Adjustments holds the optional tonal parameters. A nil field is a no-op.
type Adjustments struct {
	Brightness *int `json:"brightness,omitempty"`
	Contrast   *int `json:"contrast,omitempty"`
	Saturation *int `json:"saturation,omitempty"`
}

// Empty reports whether no parameter was supplied.
func (a Adjustments) Empty() bool {
	return a.Brightness == nil && a.Contrast == nil && a.Saturation == nil
}

// Generator renders derivatives at a fixed quality target so identical inputs
// produce identical outputs.
type Generator struct {
	jpegQuality int
	logger      *slog.Logger
}

// NewGenerator creates a generator re-encoding JPEG output at the given
// quality. A nil logger falls back to the service logger.
func NewGenerator(jpegQuality int, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = logging.ForService("derive")
	}
	return &Generator{jpegQuality: jpegQuality, logger: logger}
}

// Thumbnail produces a cover-fit square preview of boxSize pixels per edge,
// re-encoded as JPEG at the generator's quality target.
func (g *Generator) Thumbnail(data []byte, boxSize int) ([]byte, error) {
	if boxSize <= 0 {
		return nil, errors.ValidationError("thumbnail box size must be positive")
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError(err)
	}

	thumb := imaging.Fill(img, boxSize, boxSize, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(g.jpegQuality)); err != nil {
		return nil, encodeError(err)
	}
	return buf.Bytes(), nil
}

// Crop extracts exactly the requested pixel rectangle. Bounds are validated
// against the decoded source dimensions before any processing; a region that
// does not fit is a validation failure, not a processing failure.
func (g *Generator) Crop(data []byte, region Region) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError(err)
	}

	bounds := img.Bounds()
	if err := ValidateRegion(region, bounds.Dx(), bounds.Dy()); err != nil {
		return nil, err
	}

	cropped := imaging.Crop(img, image.Rect(region.X, region.Y, region.X+region.Width, region.Y+region.Height))

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, cropped, imaging.JPEG, imaging.JPEGQuality(g.jpegQuality)); err != nil {
		return nil, encodeError(err)
	}
	return buf.Bytes(), nil
}

// Adjust applies the supplied tonal parameters in a single pixel pass.
// Brightness and saturation scale multiplicatively; contrast is the linear
// transform output = a*(input-128)+128 so the midpoint gray stays put.
func (g *Generator) Adjust(data []byte, adj Adjustments) ([]byte, error) {
	if adj.Empty() {
		return nil, errors.ValidationError("at least one adjustment parameter is required")
	}
	if err := ValidateAdjustments(adj); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError(err)
	}

	brightness := factorOf(adj.Brightness)
	contrast := factorOf(adj.Contrast)
	saturation := factorOf(adj.Saturation)

	adjusted := imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		r, gr, b := float64(c.R), float64(c.G), float64(c.B)

		if saturation != 1 {
			// Rec. 601 luma; desaturation pulls channels toward it.
			luma := 0.299*r + 0.587*gr + 0.114*b
			r = luma + (r-luma)*saturation
			gr = luma + (gr-luma)*saturation
			b = luma + (b-luma)*saturation
		}
		if brightness != 1 {
			r *= brightness
			gr *= brightness
			b *= brightness
		}
		if contrast != 1 {
			r = contrast*(r-contrastMidpoint) + contrastMidpoint
			gr = contrast*(gr-contrastMidpoint) + contrastMidpoint
			b = contrast*(b-contrastMidpoint) + contrastMidpoint
		}

		return color.NRGBA{R: clamp(r), G: clamp(gr), B: clamp(b), A: c.A}
	})

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, adjusted, imaging.JPEG, imaging.JPEGQuality(g.jpegQuality)); err != nil {
		return nil, encodeError(err)
	}
	return buf.Bytes(), nil
}

// ValidateRegion checks the crop preconditions against the real source size.
func ValidateRegion(region Region, sourceWidth, sourceHeight int) error {
	if region.X < 0 || region.Y < 0 {
		return errors.ValidationError("crop origin must not be negative")
	}
	if region.Width <= 0 || region.Height <= 0 {
		return errors.ValidationError("crop dimensions must be positive")
	}
	if region.X+region.Width > sourceWidth || region.Y+region.Height > sourceHeight {
		return errors.Newf("crop region %dx%d+%d+%d exceeds source bounds %dx%d",
			region.Width, region.Height, region.X, region.Y, sourceWidth, sourceHeight).
			Component("derive").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// ValidateAdjustments checks that every supplied parameter is in range.
func ValidateAdjustments(adj Adjustments) error {
	for name, v := range map[string]*int{
		"brightness": adj.Brightness,
		"contrast":   adj.Contrast,
		"saturation": adj.Saturation,
	} {
		if v != nil && (*v < AdjustMin || *v > AdjustMax) {
			return errors.Newf("%s must be between %d and %d", name, AdjustMin, AdjustMax).
				Component("derive").
				Category(errors.CategoryValidation).
				Build()
		}
	}
	return nil
}

func factorOf(v *int) float64 {
	if v == nil {
		return 1
	}
	return float64(*v) / AdjustNeutral
}

func clamp(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}

func decodeError(err error) error {
	return errors.New(err).
		Component("derive").
		Category(errors.CategoryUnsupportedMedia).
		Build()
}

func encodeError(err error) error {
	return errors.New(err).
		Component("derive").
		Category(errors.CategoryImageProcessing).
		Build()
}
