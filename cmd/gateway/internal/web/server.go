package web

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"thirdcoast.systems/showreel/cmd/gateway/handlers/event_api"
	"thirdcoast.systems/showreel/cmd/gateway/handlers/job_api"
	"thirdcoast.systems/showreel/internal/config"
	"thirdcoast.systems/showreel/internal/db"
	"thirdcoast.systems/showreel/internal/objstore"
)

type Webserver struct {
	*echo.Echo
	conf  *config.Config
	dbc   *db.DatabaseConnection
	store objstore.Client
}

func NewWebserver(conf *config.Config, dbc *db.DatabaseConnection, store objstore.Client) (*Webserver, error) {
	e := echo.New()

	webserver := &Webserver{
		Echo:  e,
		conf:  conf,
		dbc:   dbc,
		store: store,
	}

	if err := webserver.registerRoutes(); err != nil {
		return nil, err
	}

	if err := webserver.setupMiddleware(); err != nil {
		return nil, err
	}

	return webserver, nil
}

func (s *Webserver) setupMiddleware() error {
	s.HideBanner = true
	s.HidePort = true
	s.Use(middleware.BodyLimit("2M"))
	s.Use(middleware.Recover())
	s.Use(middleware.RequestID())
	s.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
	}))
	s.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/healthz"
		},
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  false,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			slog.Info("request", fields...)
			return nil
		},
	}))

	return nil
}

func (s *Webserver) registerRoutes() error {
	// Storage notification intake (Pub/Sub push or S3 event forwarding)
	eventGroup := s.Group("/events")
	eventGroup.POST("/object-finalized", event_api.HandleObjectFinalized(s.conf, s.dbc))
	eventGroup.POST("/object-deleted", event_api.HandleObjectDeleted(s.conf, s.dbc))

	// Inspection and operations API
	apiGroup := s.Group("/api")
	apiGroup.GET("/jobs", job_api.HandleIndex(s.dbc))
	apiGroup.GET("/jobs/:id", job_api.HandleShow(s.dbc))
	apiGroup.POST("/jobs/:id/review", job_api.HandleReview(s.dbc, s.store))
	apiGroup.GET("/deadletters", job_api.HandleDeadLetters(s.dbc))
	apiGroup.POST("/deadletters/:id/requeue", job_api.HandleRequeue(s.dbc))

	// Health check
	s.GET("/healthz", func(c echo.Context) error {
		return c.String(200, "ok")
	})

	return nil
}
