package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/socialgraph/internal/graph"
	"github.com/d60-Lab/socialgraph/internal/registry"
	"github.com/d60-Lab/socialgraph/internal/service"
	"github.com/d60-Lab/socialgraph/internal/timeline"
)

type Handler struct {
	follows service.FollowService
	friends *graph.Friends
	engine  *timeline.Engine
	reg     *registry.Registry
}

func New(follows service.FollowService, friends *graph.Friends, engine *timeline.Engine, reg *registry.Registry) *Handler {
	return &Handler{follows: follows, friends: friends, engine: engine, reg: reg}
}

// refFromPath reads the :identifier/:object_id pair, rejecting
// identifiers nobody registered.
func (h *Handler) refFromPath(c *gin.Context) (registry.Ref, bool) {
	identifier := c.Param("identifier")
	if _, ok := h.reg.Lookup(identifier); !ok {
		return registry.Ref{}, false
	}
	objectID, err := strconv.ParseInt(c.Param("object_id"), 10, 64)
	if err != nil {
		return registry.Ref{}, false
	}
	return registry.Ref{Identifier: identifier, ObjectID: objectID}, true
}

func (h *Handler) ref(identifier string, objectID int64) (registry.Ref, bool) {
	if _, ok := h.reg.Lookup(identifier); !ok {
		return registry.Ref{}, false
	}
	return registry.Ref{Identifier: identifier, ObjectID: objectID}, true
}

func pagination(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "10"))
	return page, pageSize
}
