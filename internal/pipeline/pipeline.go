// Package pipeline orchestrates image ingestion and derivative mutation: blob
// writes, metadata extraction, thumbnail generation, auto-tagging and the
// database commit, with well defined failure cleanup at every stage.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tkoskela/imagevault-go/internal/autotag"
	"github.com/tkoskela/imagevault-go/internal/blobstore"
	"github.com/tkoskela/imagevault-go/internal/conf"
	"github.com/tkoskela/imagevault-go/internal/datastore"
	"github.com/tkoskela/imagevault-go/internal/derive"
	"github.com/tkoskela/imagevault-go/internal/errors"
	"github.com/tkoskela/imagevault-go/internal/logging"
	"github.com/tkoskela/imagevault-go/internal/metadata"
	"github.com/tkoskela/imagevault-go/internal/metrics"
)

// UploadedFile is one file received for ingestion. MimeType is the client's
// declaration only; the decoded bytes are authoritative for format checks.
type UploadedFile struct {
	Data     []byte
	Filename string
	MimeType string
}

// IngestResult is the per-file outcome of a batch ingestion. Exactly one of
// Image or Err is meaningful.
type IngestResult struct {
	Filename string
	Image    *datastore.Image
	Tags     []string
	Err      error
}

// Pipeline wires the extraction, derivation and tagging stages over a blob
// store and a datastore.
type Pipeline struct {
	settings  *conf.Settings
	store     datastore.Interface
	blobs     blobstore.Interface
	extractor *metadata.Extractor
	generator *derive.Generator
	tagger    *autotag.Tagger
	metrics   *metrics.PipelineMetrics
	logger    *slog.Logger

	// locks serializes mutations per image id. Entries are never removed;
	// the map grows with the number of distinct images mutated, which is
	// bounded and small per process lifetime.
	locks sync.Map
}

// New creates a pipeline. The metrics collector may be nil, in which case no
// metrics are recorded.
func New(settings *conf.Settings, store datastore.Interface, blobs blobstore.Interface, m *metrics.PipelineMetrics) *Pipeline {
	logger := logging.ForService("pipeline")
	return &Pipeline{
		settings:  settings,
		store:     store,
		blobs:     blobs,
		extractor: metadata.NewExtractor(logger),
		generator: derive.NewGenerator(settings.Image.JPEGQuality, logger),
		tagger:    autotag.NewTagger(store, logger),
		metrics:   m,
		logger:    logger,
	}
}

func (p *Pipeline) lockImage(imageID uint) func() {
	mu, _ := p.locks.LoadOrStore(imageID, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// mintLocator produces a fresh blob locator under the owner's prefix. The
// extension is taken from the uploaded filename so served files keep a
// recognizable suffix.
func mintLocator(ownerID uint, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" || len(ext) > 8 {
		ext = ".jpg"
	}
	return fmt.Sprintf("u%d/img_%s%s", ownerID, uuid.New().String(), ext)
}

// mintDerivedLocator produces a locator for generator output, which is always
// re-encoded JPEG regardless of the source format.
func mintDerivedLocator(ownerID uint) string {
	return fmt.Sprintf("u%d/img_%s.jpg", ownerID, uuid.New().String())
}

func (p *Pipeline) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.settings.Image.OperationTimeout)
}

// Ingest runs the full ingestion sequence for one uploaded file and returns
// the committed image record with its auto tags. On any fatal stage failure
// every blob written so far is removed before the error is returned; the
// thumbnail stage and the tagging stage are non-fatal by design.
func (p *Pipeline) Ingest(ctx context.Context, ownerID uint, file UploadedFile) (*datastore.Image, []string, error) {
	start := time.Now()
	img, tags, err := p.ingest(ctx, ownerID, file)
	if p.metrics != nil {
		p.metrics.ObserveIngestDuration(time.Since(start).Seconds())
		if err != nil {
			p.metrics.RecordIngest("error")
		} else {
			p.metrics.RecordIngest("success")
		}
	}
	return img, tags, err
}

func (p *Pipeline) ingest(ctx context.Context, ownerID uint, file UploadedFile) (*datastore.Image, []string, error) {
	if len(file.Data) == 0 {
		return nil, nil, errors.ValidationError("empty upload %q", file.Filename)
	}
	if int64(len(file.Data)) > p.settings.Image.MaxUploadBytes {
		return nil, nil, errors.ValidationError("upload %q exceeds size limit of %d bytes", file.Filename, p.settings.Image.MaxUploadBytes)
	}

	ctx, cancel := p.opContext(ctx)
	defer cancel()

	originalPath := mintLocator(ownerID, file.Filename)
	if err := p.blobs.Put(ctx, originalPath, file.Data); err != nil {
		return nil, nil, err
	}

	md, err := p.extractor.Extract(file.Data)
	if err != nil {
		// Unreadable uploads leave no trace.
		p.removeBlob(ctx, originalPath)
		return nil, nil, err
	}

	thumbnailPath := originalPath
	thumb, err := p.generator.Thumbnail(file.Data, p.settings.Image.ThumbnailSize)
	if err == nil {
		thumbnailPath = mintDerivedLocator(ownerID)
		if putErr := p.blobs.Put(ctx, thumbnailPath, thumb); putErr != nil {
			err = putErr
			thumbnailPath = originalPath
		}
	}
	if err != nil {
		// Degrade to serving the original in thumbnail contexts.
		p.logger.Warn("thumbnail generation failed, falling back to original",
			"filename", file.Filename, "error", err)
		if p.metrics != nil {
			p.metrics.RecordThumbnailFallback()
		}
	}

	img := &datastore.Image{
		UserID:           ownerID,
		OriginalFilename: file.Filename,
		OriginalPath:     originalPath,
		ThumbnailPath:    thumbnailPath,
		FileSize:         int64(len(file.Data)),
		Width:            &md.Width,
		Height:           &md.Height,
		TakenTime:        md.TakenTime,
		GPSLatitude:      md.GPSLatitude,
		GPSLongitude:     md.GPSLongitude,
		CameraModel:      md.CameraModel,
	}
	if err := p.store.SaveImage(img); err != nil {
		p.removeBlob(ctx, originalPath)
		if thumbnailPath != originalPath {
			p.removeBlob(ctx, thumbnailPath)
		}
		return nil, nil, err
	}

	tags, tagErr := p.tagger.Apply(img.ID, md)
	if tagErr != nil {
		// Tagging never fails an ingestion.
		p.logger.Warn("auto-tagging incomplete", "image_id", img.ID, "error", tagErr)
		if p.metrics != nil {
			p.metrics.RecordAutoTagFailure()
		}
	}

	return img, tags, nil
}

// IngestBatch ingests each file independently and returns one result per
// input, in input order. A failed file never affects its siblings.
func (p *Pipeline) IngestBatch(ctx context.Context, ownerID uint, files []UploadedFile) []IngestResult {
	results := make([]IngestResult, len(files))
	for i, file := range files {
		img, tags, err := p.Ingest(ctx, ownerID, file)
		results[i] = IngestResult{Filename: file.Filename, Image: img, Tags: tags, Err: err}
	}
	return results
}

// Crop replaces an image's stored file with the cropped region and regenerates
// its thumbnail. New files are written before old ones are deleted, so a
// failure at any point leaves the previous files intact and referenced.
func (p *Pipeline) Crop(ctx context.Context, ownerID, imageID uint, region derive.Region) (*datastore.Image, error) {
	img, err := p.mutate(ctx, ownerID, imageID, "crop", func(source []byte) ([]byte, error) {
		return p.generator.Crop(source, region)
	})
	return img, err
}

// Adjust replaces an image's stored file with a tonally adjusted version and
// regenerates its thumbnail, with the same ordering guarantees as Crop.
func (p *Pipeline) Adjust(ctx context.Context, ownerID, imageID uint, adj derive.Adjustments) (*datastore.Image, error) {
	img, err := p.mutate(ctx, ownerID, imageID, "adjust", func(source []byte) ([]byte, error) {
		return p.generator.Adjust(source, adj)
	})
	return img, err
}

// mutate applies fn to the image's current source bytes and commits the
// result. The per-image lock keeps concurrent mutations of the same image
// serial; distinct images proceed in parallel.
func (p *Pipeline) mutate(ctx context.Context, ownerID, imageID uint, kind string, fn func([]byte) ([]byte, error)) (*datastore.Image, error) {
	unlock := p.lockImage(imageID)
	defer unlock()

	img, err := p.doMutate(ctx, ownerID, imageID, fn)
	if p.metrics != nil {
		if err != nil {
			p.metrics.RecordMutation(kind, "error")
		} else {
			p.metrics.RecordMutation(kind, "success")
		}
	}
	return img, err
}

func (p *Pipeline) doMutate(ctx context.Context, ownerID, imageID uint, fn func([]byte) ([]byte, error)) (*datastore.Image, error) {
	ctx, cancel := p.opContext(ctx)
	defer cancel()

	record, err := p.store.GetImage(imageID, ownerID)
	if err != nil {
		return nil, err
	}

	source, err := p.blobs.Get(ctx, record.OriginalPath)
	if err != nil {
		return nil, err
	}

	derived, err := fn(source)
	if err != nil {
		return nil, err
	}

	md, err := p.extractor.Extract(derived)
	if err != nil {
		return nil, err
	}

	newOriginal := mintDerivedLocator(ownerID)
	if err := p.blobs.Put(ctx, newOriginal, derived); err != nil {
		return nil, err
	}

	newThumbnail := newOriginal
	thumb, thumbErr := p.generator.Thumbnail(derived, p.settings.Image.ThumbnailSize)
	if thumbErr == nil {
		newThumbnail = mintDerivedLocator(ownerID)
		if putErr := p.blobs.Put(ctx, newThumbnail, thumb); putErr != nil {
			newThumbnail = newOriginal
			thumbErr = putErr
		}
	}
	if thumbErr != nil {
		p.logger.Warn("thumbnail regeneration failed, falling back to derivative",
			"image_id", imageID, "error", thumbErr)
		if p.metrics != nil {
			p.metrics.RecordThumbnailFallback()
		}
	}

	err = p.store.UpdateImagePaths(imageID, ownerID, record.OriginalPath, newOriginal, newThumbnail, md.Width, md.Height)
	if err != nil {
		// The record still points at the old files; discard the new ones.
		p.removeBlob(ctx, newOriginal)
		if newThumbnail != newOriginal {
			p.removeBlob(ctx, newThumbnail)
		}
		return nil, err
	}

	// Commit succeeded, the old files are unreferenced now.
	p.removeBlob(ctx, record.OriginalPath)
	if record.ThumbnailPath != record.OriginalPath {
		p.removeBlob(ctx, record.ThumbnailPath)
	}

	updated, err := p.store.GetImage(imageID, ownerID)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete soft-deletes the image record and then removes its files. File
// removal is best effort; the record deletion is what users observe.
func (p *Pipeline) Delete(ctx context.Context, ownerID, imageID uint) error {
	unlock := p.lockImage(imageID)
	defer unlock()

	ctx, cancel := p.opContext(ctx)
	defer cancel()

	prior, err := p.store.SoftDeleteImage(imageID, ownerID)
	if err != nil {
		return err
	}

	p.removeBlob(ctx, prior.OriginalPath)
	if prior.ThumbnailPath != prior.OriginalPath {
		p.removeBlob(ctx, prior.ThumbnailPath)
	}
	return nil
}

// removeBlob deletes a blob and logs instead of failing; cleanup must not
// mask the error that triggered it.
func (p *Pipeline) removeBlob(ctx context.Context, locator string) {
	if err := p.blobs.Delete(ctx, locator); err != nil {
		p.logger.Warn("failed to remove blob", "locator", locator, "error", err)
	}
}
