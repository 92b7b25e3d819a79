package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/socialgraph/internal/graph"
	"github.com/d60-Lab/socialgraph/internal/registry"
	"github.com/d60-Lab/socialgraph/internal/service"
	"github.com/d60-Lab/socialgraph/pkg/response"
)

type edgeRequest struct {
	FromIdentifier string `json:"from_identifier" binding:"required"`
	FromObjectID   int64  `json:"from_object_id" binding:"required"`
	ToIdentifier   string `json:"to_identifier" binding:"required"`
	ToObjectID     int64  `json:"to_object_id" binding:"required"`
}

func (h *Handler) edgeRefs(c *gin.Context) (from, to registry.Ref, ok bool) {
	var req edgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return from, to, false
	}
	from, ok = h.ref(req.FromIdentifier, req.FromObjectID)
	if !ok {
		response.BadRequest(c, "unknown identifier: "+req.FromIdentifier)
		return from, to, false
	}
	to, ok = h.ref(req.ToIdentifier, req.ToObjectID)
	if !ok {
		response.BadRequest(c, "unknown identifier: "+req.ToIdentifier)
		return from, to, false
	}
	return from, to, true
}

// Follow creates the edge and answers with the follower's updated
// followings counts, total and scoped to the followee's type.
func (h *Handler) Follow(c *gin.Context) {
	from, to, ok := h.edgeRefs(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.follows.Follow(ctx, from, to); err != nil {
		if errors.Is(err, service.ErrFollowSelf) {
			response.BadRequest(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	h.followCounts(c, from, to.Identifier)
}

func (h *Handler) Unfollow(c *gin.Context) {
	from, to, ok := h.edgeRefs(c)
	if !ok {
		return
	}
	if _, err := h.follows.Unfollow(c.Request.Context(), from, to); err != nil {
		response.InternalError(c, err)
		return
	}
	h.followCounts(c, from, to.Identifier)
}

func (h *Handler) followCounts(c *gin.Context, from registry.Ref, toIdentifier string) {
	ctx := c.Request.Context()
	total, err := h.follows.FollowingsCount(ctx, from, "")
	if err != nil {
		response.InternalError(c, err)
		return
	}
	scoped, err := h.follows.FollowingsCount(ctx, from, toIdentifier)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{
		"followings_count":                 total,
		toIdentifier + "_followings_count": scoped,
	})
}

func (h *Handler) ListFollowers(c *gin.Context) {
	ref, ok := h.refFromPath(c)
	if !ok {
		response.BadRequest(c, "unknown identifier or bad object id")
		return
	}
	page, pageSize := pagination(c)
	edges, err := h.follows.ListFollowers(c.Request.Context(), ref, c.Query("identifier"), page, pageSize)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"page": page, "page_size": pageSize, "list": renderEdges(edges)})
}

func (h *Handler) ListFollowings(c *gin.Context) {
	ref, ok := h.refFromPath(c)
	if !ok {
		response.BadRequest(c, "unknown identifier or bad object id")
		return
	}
	page, pageSize := pagination(c)
	edges, err := h.follows.ListFollowings(c.Request.Context(), ref, c.Query("identifier"), page, pageSize)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"page": page, "page_size": pageSize, "list": renderEdges(edges)})
}

func renderEdges(edges []graph.Edge) []gin.H {
	list := make([]gin.H, len(edges))
	for i, e := range edges {
		list[i] = gin.H{
			"identifier":  e.Ref.Identifier,
			"object_id":   e.Ref.ObjectID,
			"followed_at": e.At.Format(time.RFC3339),
		}
	}
	return list
}

func (h *Handler) FriendsCount(c *gin.Context) {
	ref, ok := h.refFromPath(c)
	if !ok {
		response.BadRequest(c, "unknown identifier or bad object id")
		return
	}
	count, err := h.friends.FriendsCount(c.Request.Context(), ref, c.Query("identifier"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"friends_count": count})
}

func (h *Handler) Degree(c *gin.Context) {
	ref, ok := h.refFromPath(c)
	if !ok {
		response.BadRequest(c, "unknown identifier or bad object id")
		return
	}
	otherID, err := strconv.ParseInt(c.Query("object_id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "bad object id")
		return
	}
	other, ok := h.ref(c.Query("identifier"), otherID)
	if !ok {
		response.BadRequest(c, "unknown identifier: "+c.Query("identifier"))
		return
	}
	degree, err := h.friends.Degree(c.Request.Context(), ref, other)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"degree": degree})
}

func (h *Handler) RelatedFriends(c *gin.Context) {
	ref, ok := h.refFromPath(c)
	if !ok {
		response.BadRequest(c, "unknown identifier or bad object id")
		return
	}
	degree, err := strconv.Atoi(c.DefaultQuery("degree", "1"))
	if err != nil || degree < 0 {
		response.BadRequest(c, "bad degree")
		return
	}
	related, err := h.friends.RelatedFriends(c.Request.Context(), ref, degree)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	list := make([]gin.H, len(related))
	for i, r := range related {
		list[i] = gin.H{"identifier": r.Identifier, "object_id": r.ObjectID}
	}
	response.Success(c, gin.H{"degree": degree, "list": list})
}
