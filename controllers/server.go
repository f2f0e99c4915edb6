package controllers

import (
	"net/http"

	"tryonapi/services"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const DefaultMaxBodySize = "20M"

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

type ServerOptions struct {
	MaxBodySize string
	Tracker     services.Tracker
}

func SetupServer(fanout *services.FanoutCoordinator, opts ServerOptions) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Validator = &CustomValidator{validator: validator.New()}

	if opts.MaxBodySize == "" {
		opts.MaxBodySize = DefaultMaxBodySize
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = services.NoopTracker{}
	}

	e.Use(RequestLoggerMiddleware)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	apiGroup := e.Group("/api", middleware.BodyLimit(opts.MaxBodySize))
	controller := TryOnController{Fanout: fanout, Tracker: tracker}
	controller.TryOnRoutes(apiGroup)

	return e
}
