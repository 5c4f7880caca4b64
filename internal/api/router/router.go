package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/notification-dispatcher/internal/api/handlers/notification"
	"github.com/aliskhannn/notification-dispatcher/internal/api/respond"
)

func New(handler *notification.Handler) *ginext.Engine {
	e := ginext.New()
	e.Use(ginext.Logger())
	e.Use(ginext.Recovery())

	e.GET("/health", func(c *ginext.Context) {
		respond.OK(c.Writer, "ok")
	})

	api := e.Group("/api/notifications")
	{
		api.POST("", handler.Create)
		api.GET("", handler.List)
		api.GET("/:id", handler.Get)
		api.POST("/:id/resend", handler.Resend)
	}

	return e
}
