package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tkoskela/imagevault-go/internal/datastore"
	"github.com/tkoskela/imagevault-go/internal/errors"
)

// ListTags returns every tag with its usage count across the caller's live
// images.
func (c *Controller) ListTags(ctx echo.Context) error {
	tags, err := c.DS.ListTags(currentUserID(ctx))
	if err != nil {
		return c.HandleError(ctx, err, "failed to list tags")
	}
	return ctx.JSON(http.StatusOK, map[string]any{"tags": tags})
}

// SuggestTags returns tags matching a keyword prefix for autocomplete.
func (c *Controller) SuggestTags(ctx echo.Context) error {
	keyword := ctx.QueryParam("q")
	limit, _ := strconv.Atoi(ctx.QueryParam("limit"))
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	tags, err := c.DS.SuggestTags(currentUserID(ctx), keyword, limit)
	if err != nil {
		return c.HandleError(ctx, err, "failed to suggest tags")
	}

	items := make([]tagInfo, 0, len(tags))
	for _, tag := range tags {
		items = append(items, tagInfo{ID: tag.ID, Name: tag.Name, Type: tag.Type})
	}
	return ctx.JSON(http.StatusOK, map[string]any{"tags": items})
}

type createTagRequest struct {
	Name string `json:"name"`
}

// CreateTag creates (or finds) a custom tag by name.
func (c *Controller) CreateTag(ctx echo.Context) error {
	var req createTagRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, errors.ValidationError("malformed request body"), "malformed request body")
	}
	if req.Name == "" {
		return c.HandleError(ctx, errors.ValidationError("tag name is required"), "tag name is required")
	}

	tag, err := c.DS.UpsertTag(req.Name, datastore.TagTypeCustom)
	if err != nil {
		return c.HandleError(ctx, err, "failed to create tag")
	}
	return ctx.JSON(http.StatusCreated, tagInfo{ID: tag.ID, Name: tag.Name, Type: tag.Type})
}

// DeleteTag deletes a custom tag and all its image links. Auto tags cannot be
// deleted.
func (c *Controller) DeleteTag(ctx echo.Context) error {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, errors.ValidationError("invalid tag id %q", ctx.Param("id")), "invalid tag id")
	}

	if err := c.DS.DeleteTag(uint(id)); err != nil {
		return c.HandleError(ctx, err, "failed to delete tag")
	}
	return ctx.NoContent(http.StatusNoContent)
}

type attachTagRequest struct {
	TagID uint   `json:"tag_id"`
	Name  string `json:"name"`
}

// AttachTag links a tag to the caller's image. A name may be given instead of
// an id, in which case a custom tag is created on demand.
func (c *Controller) AttachTag(ctx echo.Context) error {
	imageID, err := c.imageIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "invalid image id")
	}

	var req attachTagRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, errors.ValidationError("malformed request body"), "malformed request body")
	}

	// Ownership check before touching links.
	if _, err := c.DS.GetImage(imageID, currentUserID(ctx)); err != nil {
		return c.HandleError(ctx, err, "image not found")
	}

	var tag datastore.Tag
	switch {
	case req.TagID != 0:
		tag, err = c.DS.GetTag(req.TagID)
	case req.Name != "":
		tag, err = c.DS.UpsertTag(req.Name, datastore.TagTypeCustom)
	default:
		err = errors.ValidationError("tag_id or name is required")
	}
	if err != nil {
		return c.HandleError(ctx, err, "failed to resolve tag")
	}

	if err := c.DS.LinkImageTag(imageID, tag.ID); err != nil {
		return c.HandleError(ctx, err, "failed to attach tag")
	}
	return ctx.JSON(http.StatusOK, tagInfo{ID: tag.ID, Name: tag.Name, Type: tag.Type})
}

// DetachTag removes a tag link from the caller's image.
func (c *Controller) DetachTag(ctx echo.Context) error {
	imageID, err := c.imageIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "invalid image id")
	}
	tagID, err := strconv.ParseUint(ctx.Param("tagID"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, errors.ValidationError("invalid tag id %q", ctx.Param("tagID")), "invalid tag id")
	}

	if _, err := c.DS.GetImage(imageID, currentUserID(ctx)); err != nil {
		return c.HandleError(ctx, err, "image not found")
	}

	if err := c.DS.UnlinkImageTag(imageID, uint(tagID)); err != nil {
		return c.HandleError(ctx, err, "failed to detach tag")
	}
	return ctx.NoContent(http.StatusNoContent)
}
