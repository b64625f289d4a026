// Package api implements the JSON HTTP API: authentication, image upload and
// mutation, tag management and stored file serving.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tkoskela/imagevault-go/internal/blobstore"
	"github.com/tkoskela/imagevault-go/internal/conf"
	"github.com/tkoskela/imagevault-go/internal/datastore"
	"github.com/tkoskela/imagevault-go/internal/errors"
	"github.com/tkoskela/imagevault-go/internal/logging"
	"github.com/tkoskela/imagevault-go/internal/pipeline"
)

// batchBodyFactor sizes the request body limit relative to the per-file upload
// limit, leaving headroom for batch uploads and multipart framing.
const batchBodyFactor = 20

// Controller manages the API routes and handlers.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	DS       datastore.Interface
	Blobs    blobstore.Interface
	Settings *conf.Settings
	Pipeline *pipeline.Pipeline

	auth   *AuthService
	logger *slog.Logger
}

// New creates the API controller and registers all routes on a fresh Echo
// instance. The registry may be nil to skip the metrics endpoint.
func New(settings *conf.Settings, ds datastore.Interface, blobs blobstore.Interface, p *pipeline.Pipeline, registry *prometheus.Registry) *Controller {
	e := echo.New()
	e.HideBanner = true
	e.IPExtractor = echo.ExtractIPFromXFFHeader()

	c := &Controller{
		Echo:     e,
		DS:       ds,
		Blobs:    blobs,
		Settings: settings,
		Pipeline: p,
		auth:     NewAuthService(settings),
		logger:   logging.ForService("api"),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(strconv.FormatInt(settings.Image.MaxUploadBytes*batchBodyFactor, 10)))

	c.Group = e.Group("/api")
	c.initRoutes(registry)
	return c
}

func (c *Controller) initRoutes(registry *prometheus.Registry) {
	// Public routes
	c.Group.POST("/auth/register", c.Register)
	c.Group.POST("/auth/login", c.Login)

	if registry != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	// Everything below requires a valid token
	protected := c.Group.Group("", c.auth.Middleware())

	protected.POST("/images", c.UploadImage)
	protected.POST("/images/batch", c.UploadImageBatch)
	protected.GET("/images", c.ListImages)
	protected.GET("/images/:id", c.GetImage)
	protected.PUT("/images/:id", c.UpdateImage)
	protected.DELETE("/images/:id", c.DeleteImage)
	protected.POST("/images/:id/crop", c.CropImage)
	protected.POST("/images/:id/adjust", c.AdjustImage)
	protected.GET("/images/:id/file", c.ServeImageFile)
	protected.GET("/images/:id/thumbnail", c.ServeImageThumbnail)

	protected.GET("/tags", c.ListTags)
	protected.GET("/tags/suggest", c.SuggestTags)
	protected.POST("/tags", c.CreateTag)
	protected.DELETE("/tags/:id", c.DeleteTag)
	protected.POST("/images/:id/tags", c.AttachTag)
	protected.DELETE("/images/:id/tags/:tagID", c.DetachTag)
}

// Start begins serving on the configured listen address and blocks.
func (c *Controller) Start() error {
	c.logger.Info("starting HTTP server", "listen", c.Settings.HTTP.Listen)
	return c.Echo.Start(c.Settings.HTTP.Listen)
}

// Shutdown gracefully stops the HTTP server.
func (c *Controller) Shutdown(ctx context.Context) error {
	return c.Echo.Shutdown(ctx)
}

// ErrorResponse is the JSON error body returned by all handlers.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// HandleError maps an error to an HTTP status via its category, logs it, and
// writes the JSON error body.
func (c *Controller) HandleError(ctx echo.Context, err error, message string) error {
	code := statusForError(err)
	if code >= http.StatusInternalServerError {
		c.logger.Error("request failed",
			"message", message,
			"error", err,
			"path", ctx.Request().URL.Path,
			"method", ctx.Request().Method,
			"ip", ctx.RealIP(),
		)
	} else {
		c.logger.Debug("request rejected",
			"message", message,
			"error", err,
			"path", ctx.Request().URL.Path,
			"code", code,
		)
	}
	return ctx.JSON(code, ErrorResponse{Error: message, Code: code})
}

func statusForError(err error) int {
	switch {
	case errors.IsValidation(err):
		return http.StatusBadRequest
	case errors.IsUnsupportedMedia(err):
		return http.StatusUnsupportedMediaType
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsConflict(err):
		return http.StatusConflict
	case errors.IsCategory(err, errors.CategoryAuth):
		return http.StatusUnauthorized
	case errors.IsCategory(err, errors.CategoryTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
