// Package autotag derives classification labels from extracted image metadata
// and resolves them against the shared tag vocabulary.
package autotag

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tkoskela/imagevault-go/internal/datastore"
	"github.com/tkoskela/imagevault-go/internal/logging"
	"github.com/tkoskela/imagevault-go/internal/metadata"
)

// Resolution tier thresholds in total pixels.
const (
	highDefinitionPixels     = 2_073_600 // 1920x1080
	standardDefinitionPixels = 921_600   // 1280x720
)

// Tag names for the fixed classification vocabulary.
const (
	TagHighDefinition     = "high-definition"
	TagStandardDefinition = "standard-definition"
	TagLandscape          = "landscape"
	TagPortrait           = "portrait"
	TagHasLocation        = "has-location"
)

// seasonByMonth is the fixed capture-season table. Not configurable.
var seasonByMonth = map[time.Month]string{
	time.March: "spring", time.April: "spring", time.May: "spring",
	time.June: "summer", time.July: "summer", time.August: "summer",
	time.September: "autumn", time.October: "autumn", time.November: "autumn",
	time.December: "winter", time.January: "winter", time.February: "winter",
}

// DeriveTags maps metadata to tag names. It is deterministic and total:
// absent inputs yield fewer tags, never an error.
func DeriveTags(md metadata.Metadata) []string {
	var tags []string

	switch pixels := md.Width * md.Height; {
	case pixels >= highDefinitionPixels:
		tags = append(tags, TagHighDefinition)
	case pixels >= standardDefinitionPixels:
		tags = append(tags, TagStandardDefinition)
	}

	switch {
	case md.Width > md.Height:
		tags = append(tags, TagLandscape)
	case md.Height > md.Width:
		tags = append(tags, TagPortrait)
	}

	if md.TakenTime != nil {
		taken := *md.TakenTime
		tags = append(tags,
			fmt.Sprintf("%d年", taken.Year()),
			fmt.Sprintf("%d年%d月", taken.Year(), int(taken.Month())),
			seasonByMonth[taken.Month()],
		)
	}

	if md.GPSLatitude != nil && md.GPSLongitude != nil {
		tags = append(tags, TagHasLocation)
	}

	return tags
}

// Tagger resolves derived tag names against the vocabulary and links them to
// images.
type Tagger struct {
	store  datastore.Interface
	logger *slog.Logger
}

// NewTagger creates a tagger. A nil logger falls back to the service logger.
func NewTagger(store datastore.Interface, logger *slog.Logger) *Tagger {
	if logger == nil {
		logger = logging.ForService("autotag")
	}
	return &Tagger{store: store, logger: logger}
}

// Apply derives tags for the metadata and assigns them to the image. Both the
// tag rows and the links are created idempotently; repeated runs against the
// same image change nothing. A failed assignment of one tag does not stop the
// others, and the combined error is the caller's to swallow or surface.
func (t *Tagger) Apply(imageID uint, md metadata.Metadata) ([]string, error) {
	names := DeriveTags(md)

	var firstErr error
	applied := make([]string, 0, len(names))
	for _, name := range names {
		tag, err := t.store.UpsertTag(name, datastore.TagTypeAuto)
		if err != nil {
			t.logger.Warn("failed to resolve auto tag", "tag", name, "image_id", imageID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := t.store.LinkImageTag(imageID, tag.ID); err != nil {
			t.logger.Warn("failed to link auto tag", "tag", name, "image_id", imageID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		applied = append(applied, name)
	}
	return applied, firstErr
}
