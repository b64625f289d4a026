package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tkoskela/imagevault-go/internal/datastore"
	"github.com/tkoskela/imagevault-go/internal/derive"
	"github.com/tkoskela/imagevault-go/internal/errors"
	"github.com/tkoskela/imagevault-go/internal/pipeline"
)

// imageResponse is the JSON representation of an image record.
type imageResponse struct {
	ID               uint       `json:"id"`
	OriginalFilename string     `json:"original_filename"`
	FileSize         int64      `json:"file_size"`
	Width            *int       `json:"width"`
	Height           *int       `json:"height"`
	TakenTime        *time.Time `json:"taken_time,omitempty"`
	GPSLatitude      *float64   `json:"gps_latitude,omitempty"`
	GPSLongitude     *float64   `json:"gps_longitude,omitempty"`
	CameraModel      *string    `json:"camera_model,omitempty"`
	Description      *string    `json:"description,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Tags             []tagInfo  `json:"tags,omitempty"`
}

type tagInfo struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

func toImageResponse(img *datastore.Image, tags []datastore.Tag) imageResponse {
	resp := imageResponse{
		ID:               img.ID,
		OriginalFilename: img.OriginalFilename,
		FileSize:         img.FileSize,
		Width:            img.Width,
		Height:           img.Height,
		TakenTime:        img.TakenTime,
		GPSLatitude:      img.GPSLatitude,
		GPSLongitude:     img.GPSLongitude,
		CameraModel:      img.CameraModel,
		Description:      img.Description,
		CreatedAt:        img.CreatedAt,
		UpdatedAt:        img.UpdatedAt,
	}
	for _, tag := range tags {
		resp.Tags = append(resp.Tags, tagInfo{ID: tag.ID, Name: tag.Name, Type: tag.Type})
	}
	return resp
}

func (c *Controller) imageIDParam(ctx echo.Context) (uint, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return 0, errors.ValidationError("invalid image id %q", ctx.Param("id"))
	}
	return uint(id), nil
}

func readUpload(header *multipart.FileHeader, limit int64) (pipeline.UploadedFile, error) {
	if header.Size > limit {
		return pipeline.UploadedFile{}, errors.ValidationError("upload %q exceeds size limit of %d bytes", header.Filename, limit)
	}
	f, err := header.Open()
	if err != nil {
		return pipeline.UploadedFile{}, errors.New(err).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return pipeline.UploadedFile{}, errors.New(err).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	if int64(len(data)) > limit {
		return pipeline.UploadedFile{}, errors.ValidationError("upload %q exceeds size limit of %d bytes", header.Filename, limit)
	}
	return pipeline.UploadedFile{
		Data:     data,
		Filename: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
	}, nil
}

// UploadImage ingests a single multipart file under the "file" field.
func (c *Controller) UploadImage(ctx echo.Context) error {
	header, err := ctx.FormFile("file")
	if err != nil {
		return c.HandleError(ctx, errors.ValidationError("missing file field"), "missing file field")
	}

	file, err := readUpload(header, c.Settings.Image.MaxUploadBytes)
	if err != nil {
		return c.HandleError(ctx, err, "failed to read upload")
	}

	img, tags, err := c.Pipeline.Ingest(ctx.Request().Context(), currentUserID(ctx), file)
	if err != nil {
		return c.HandleError(ctx, err, "ingestion failed")
	}

	resp := toImageResponse(img, nil)
	for _, name := range tags {
		resp.Tags = append(resp.Tags, tagInfo{Name: name, Type: datastore.TagTypeAuto})
	}
	return ctx.JSON(http.StatusCreated, resp)
}

// batchItemResponse is the per-file outcome of a batch upload.
type batchItemResponse struct {
	Filename string         `json:"filename"`
	Image    *imageResponse `json:"image,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// UploadImageBatch ingests every multipart file under the "files" field. Each
// file succeeds or fails on its own; the response always carries one entry
// per file, in upload order.
func (c *Controller) UploadImageBatch(ctx echo.Context) error {
	form, err := ctx.MultipartForm()
	if err != nil {
		return c.HandleError(ctx, errors.ValidationError("malformed multipart form"), "malformed multipart form")
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return c.HandleError(ctx, errors.ValidationError("no files provided"), "no files provided")
	}

	files := make([]pipeline.UploadedFile, 0, len(headers))
	items := make([]batchItemResponse, len(headers))
	indexes := make([]int, 0, len(headers))
	for i, header := range headers {
		items[i].Filename = header.Filename
		file, err := readUpload(header, c.Settings.Image.MaxUploadBytes)
		if err != nil {
			items[i].Error = err.Error()
			continue
		}
		files = append(files, file)
		indexes = append(indexes, i)
	}

	results := c.Pipeline.IngestBatch(ctx.Request().Context(), currentUserID(ctx), files)
	for n, result := range results {
		i := indexes[n]
		if result.Err != nil {
			items[i].Error = result.Err.Error()
			continue
		}
		resp := toImageResponse(result.Image, nil)
		for _, name := range result.Tags {
			resp.Tags = append(resp.Tags, tagInfo{Name: name, Type: datastore.TagTypeAuto})
		}
		items[i].Image = &resp
	}

	return ctx.JSON(http.StatusOK, map[string]any{"results": items})
}

// ListImages returns a page of the caller's images, optionally filtered by
// tag name and description substring.
func (c *Controller) ListImages(ctx echo.Context) error {
	filter := datastore.ImageFilter{
		TagName:     ctx.QueryParam("tag"),
		Description: ctx.QueryParam("q"),
	}
	filter.Page, _ = strconv.Atoi(ctx.QueryParam("page"))
	filter.PageSize, _ = strconv.Atoi(ctx.QueryParam("page_size"))

	images, total, err := c.DS.SearchImages(currentUserID(ctx), filter)
	if err != nil {
		return c.HandleError(ctx, err, "failed to list images")
	}

	items := make([]imageResponse, 0, len(images))
	for i := range images {
		items = append(items, toImageResponse(&images[i], nil))
	}
	return ctx.JSON(http.StatusOK, map[string]any{"images": items, "total": total})
}

// GetImage returns one image with its tags.
func (c *Controller) GetImage(ctx echo.Context) error {
	id, err := c.imageIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "invalid image id")
	}

	img, err := c.DS.GetImage(id, currentUserID(ctx))
	if err != nil {
		return c.HandleError(ctx, err, "image not found")
	}
	tags, err := c.DS.TagsForImage(img.ID)
	if err != nil {
		return c.HandleError(ctx, err, "failed to load tags")
	}
	return ctx.JSON(http.StatusOK, toImageResponse(&img, tags))
}

type updateImageRequest struct {
	Description *string `json:"description"`
}

// UpdateImage updates mutable record fields, currently the description.
func (c *Controller) UpdateImage(ctx echo.Context) error {
	id, err := c.imageIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "invalid image id")
	}

	var req updateImageRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, errors.ValidationError("malformed request body"), "malformed request body")
	}
	if req.Description == nil {
		return c.HandleError(ctx, errors.ValidationError("no fields to update"), "no fields to update")
	}

	if err := c.DS.UpdateImageFields(id, currentUserID(ctx), map[string]any{"description": *req.Description}); err != nil {
		return c.HandleError(ctx, err, "failed to update image")
	}

	img, err := c.DS.GetImage(id, currentUserID(ctx))
	if err != nil {
		return c.HandleError(ctx, err, "image not found")
	}
	return ctx.JSON(http.StatusOK, toImageResponse(&img, nil))
}

// DeleteImage soft-deletes the record and removes its stored files.
func (c *Controller) DeleteImage(ctx echo.Context) error {
	id, err := c.imageIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "invalid image id")
	}

	if err := c.Pipeline.Delete(ctx.Request().Context(), currentUserID(ctx), id); err != nil {
		return c.HandleError(ctx, err, "failed to delete image")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// CropImage replaces the stored file with the given region.
func (c *Controller) CropImage(ctx echo.Context) error {
	id, err := c.imageIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "invalid image id")
	}

	var region derive.Region
	if err := ctx.Bind(&region); err != nil {
		return c.HandleError(ctx, errors.ValidationError("malformed request body"), "malformed request body")
	}

	img, err := c.Pipeline.Crop(ctx.Request().Context(), currentUserID(ctx), id, region)
	if err != nil {
		return c.HandleError(ctx, err, "crop failed")
	}
	return ctx.JSON(http.StatusOK, toImageResponse(img, nil))
}

// AdjustImage replaces the stored file with a tonally adjusted version.
func (c *Controller) AdjustImage(ctx echo.Context) error {
	id, err := c.imageIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "invalid image id")
	}

	var adj derive.Adjustments
	if err := ctx.Bind(&adj); err != nil {
		return c.HandleError(ctx, errors.ValidationError("malformed request body"), "malformed request body")
	}

	img, err := c.Pipeline.Adjust(ctx.Request().Context(), currentUserID(ctx), id, adj)
	if err != nil {
		return c.HandleError(ctx, err, "adjust failed")
	}
	return ctx.JSON(http.StatusOK, toImageResponse(img, nil))
}

// ServeImageFile streams the stored original.
func (c *Controller) ServeImageFile(ctx echo.Context) error {
	return c.serveBlob(ctx, func(img *datastore.Image) string { return img.OriginalPath })
}

// ServeImageThumbnail streams the thumbnail, which may be the original when
// ingestion degraded.
func (c *Controller) ServeImageThumbnail(ctx echo.Context) error {
	return c.serveBlob(ctx, func(img *datastore.Image) string { return img.ThumbnailPath })
}

func (c *Controller) serveBlob(ctx echo.Context, locator func(*datastore.Image) string) error {
	id, err := c.imageIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "invalid image id")
	}

	img, err := c.DS.GetImage(id, currentUserID(ctx))
	if err != nil {
		return c.HandleError(ctx, err, "image not found")
	}

	data, err := c.Blobs.Get(ctx.Request().Context(), locator(&img))
	if err != nil {
		return c.HandleError(ctx, err, "stored file missing")
	}
	return ctx.Blob(http.StatusOK, http.DetectContentType(data), data)
}
