package api

import (
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/socialgraph/internal/api/handler"
)

// NewRouter mounts the thin endpoint layer over the core services. The
// tracing and sentry middleware are no-ops until their SDKs are
// initialized.
func NewRouter(h *handler.Handler, mode string) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("socialgraph"))
	r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/follow", h.Follow)
		v1.POST("/unfollow", h.Unfollow)

		entity := v1.Group("/:identifier/:object_id")
		{
			entity.GET("/followers", h.ListFollowers)
			entity.GET("/followings", h.ListFollowings)
			entity.GET("/friends/count", h.FriendsCount)
			entity.GET("/friends/related", h.RelatedFriends)
			entity.GET("/degree", h.Degree)
			entity.GET("/timeline", h.GetTimeline)
			entity.POST("/timeline/read", h.MarkAsRead)
			entity.GET("/timeline/read", h.ReadAt)
		}
	}
	return r
}
