package http

import (
	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine with all routes registered. extra
// middleware runs after the default chain.
func NewRouter(h *ResultsHandler, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(DefaultMiddleware()...)
	r.Use(extra...)

	r.GET("/health", h.Health)
	v1 := r.Group("/v1")
	{
		v1.GET("/results", h.Results)
		v1.GET("/summary", h.Summary)
		v1.GET("/runs", h.Runs)
		v1.GET("/chart", h.Chart)
	}
	return r
}
