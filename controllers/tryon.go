package controllers

import (
	"encoding/base64"
	"mime"
	"net/http"
	"strconv"

	"tryonapi/models"
	"tryonapi/services"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
)

type TryOnController struct {
	Fanout  *services.FanoutCoordinator
	Tracker services.Tracker
}

func (controller *TryOnController) TryOnRoutes(g *echo.Group) {
	g.POST("/tryon", controller.TryOn)
}

func (controller *TryOnController) readRequest(c echo.Context) (*models.TryOnRequest, error) {
	mediaType, params, err := mime.ParseMediaType(c.Request().Header.Get(echo.HeaderContentType))
	if err != nil {
		return nil, models.NewTryOnError(models.KindInvalidInput, "", "invalid content type", err)
	}
	if mediaType == echo.MIMEMultipartForm {
		return services.DecodeMultipartRequest(c.Request().Body, params["boundary"])
	}
	if mediaType != echo.MIMEApplicationJSON {
		return nil, models.NewTryOnError(models.KindInvalidInput, "", "unsupported content type "+mediaType, nil)
	}

	var body models.TryOnRequestBody
	if err := c.Bind(&body); err != nil {
		return nil, models.NewTryOnError(models.KindInvalidInput, "", "invalid request body", err)
	}
	if err := c.Validate(body); err != nil {
		return nil, models.NewTryOnError(models.KindInvalidInput, "", "invalid request body", err)
	}
	return services.DecodeJSONRequest(body)
}

// TryOn generates ImageCount try-on images. One image is returned as raw
// bytes, several as a JSON list of base64 strings.
func (controller *TryOnController) TryOn(c echo.Context) error {
	logger := requestLogger(c)
	ctx := c.Request().Context()

	req, err := controller.readRequest(c)
	if err != nil {
		tryOnErr := models.AsTryOnError(err)
		logger.Warn().Err(err).Msg("rejected try-on request")
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request",
			Details: tryOnErr.Message,
			Code:    string(models.KindInvalidInput),
		})
	}
	logger.Info().
		Int("person_bytes", len(req.Subject.Data)).
		Int("clothing_bytes", len(req.Garment.Data)).
		Int("image_count", req.ImageCount).
		Bool("free_retry", req.IsFreeRetry).
		Msg("try-on request received")

	images, err := controller.Fanout.Generate(ctx, *req)
	if err != nil {
		kind := models.KindOf(err)
		captureError(c, err, kind, req)
		controller.Tracker.Track(ctx, models.NewAnalyticsEvent(models.EventTryOnFailed, map[string]string{
			"path": "/api/tryon",
			"kind": string(kind),
		}))
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "Failed to generate try-on",
			Details: err.Error(),
			Code:    string(kind),
		})
	}

	controller.Tracker.Track(ctx, models.NewAnalyticsEvent(models.EventTryOnGenerated, map[string]string{
		"path":        "/api/tryon",
		"image_count": strconv.Itoa(len(images)),
		"free_retry":  strconv.FormatBool(req.IsFreeRetry),
	}))

	if len(images) == 1 {
		return c.Blob(http.StatusOK, models.MimePNG, images[0])
	}
	encoded := make([]string, len(images))
	for i, image := range images {
		encoded[i] = base64.StdEncoding.EncodeToString(image)
	}
	return c.JSON(http.StatusOK, models.TryOnImagesResponse{Images: encoded})
}

func captureError(c echo.Context, err error, kind models.ErrorKind, req *models.TryOnRequest) {
	hub := sentryecho.GetHubFromContext(c)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("failure_kind", string(kind))
		scope.SetExtra("image_count", req.ImageCount)
		scope.SetExtra("free_retry", req.IsFreeRetry)
		hub.CaptureException(err)
	})
}
