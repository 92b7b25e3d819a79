package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/socialgraph/internal/timeline"
	"github.com/d60-Lab/socialgraph/pkg/response"
)

// GetTimeline pages through an owner's private or public index,
// optionally narrowed by verb and target type.
func (h *Handler) GetTimeline(c *gin.Context) {
	ref, ok := h.refFromPath(c)
	if !ok {
		response.BadRequest(c, "unknown identifier or bad object id")
		return
	}
	page, pageSize := pagination(c)
	opts := timeline.FetchOptions{
		Verb:             c.Query("verb"),
		TargetIdentifier: c.Query("target"),
		Asc:              c.Query("order") == "asc",
		Offset:           (page - 1) * pageSize,
		PageSize:         pageSize,
	}

	tl := h.engine.Timeline(ref)
	ctx := c.Request.Context()

	var (
		it    *timeline.ActionIter
		count int64
		err   error
	)
	if c.DefaultQuery("visibility", "public") == "private" {
		it = tl.GetPrivate(opts)
		count, err = tl.PrivateCount(ctx, opts)
	} else {
		it = tl.GetPublic(opts)
		count, err = tl.PublicCount(ctx, opts)
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	items, err := it.Collect(ctx, pageSize)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	list := make([]gin.H, len(items))
	for i, item := range items {
		a := item.Action
		entry := gin.H{
			"uid":       a.UID,
			"verb":      a.Verb,
			"timestamp": a.At.Format(time.RFC3339Nano),
			"actor":     gin.H{"identifier": a.Actor.Identifier, "object_id": a.Actor.ObjectID},
		}
		if a.Target != nil {
			entry["target"] = gin.H{"identifier": a.Target.Identifier, "object_id": a.Target.ObjectID}
		}
		if len(a.Extra) > 0 {
			entry["extra"] = a.Extra
		}
		list[i] = entry
	}
	response.Success(c, gin.H{"page": page, "page_size": pageSize, "count": count, "list": list})
}

type markReadRequest struct {
	Timestamp *float64 `json:"timestamp"`
}

// MarkAsRead stores the owner's read watermark, defaulting to now.
func (h *Handler) MarkAsRead(c *gin.Context) {
	ref, ok := h.refFromPath(c)
	if !ok {
		response.BadRequest(c, "unknown identifier or bad object id")
		return
	}
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.BadRequest(c, err.Error())
		return
	}

	var at time.Time
	if req.Timestamp != nil {
		at = time.Unix(0, int64(*req.Timestamp*float64(time.Second)))
	}
	if err := h.engine.Timeline(ref).MarkAsRead(c.Request.Context(), at); err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, nil)
}

// ReadAt reports the watermark, null when never marked.
func (h *Handler) ReadAt(c *gin.Context) {
	ref, ok := h.refFromPath(c)
	if !ok {
		response.BadRequest(c, "unknown identifier or bad object id")
		return
	}
	at, marked, err := h.engine.Timeline(ref).ReadAt(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if !marked {
		response.Success(c, gin.H{"read_at": nil})
		return
	}
	response.Success(c, gin.H{"read_at": at.Format(time.RFC3339Nano)})
}
