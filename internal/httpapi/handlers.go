package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/calvinalkan/graphcache/internal/graph/core"
)

// followWriter is the authoritative backing store's write side. Handlers
// depend on this interface rather than *followstore.Store directly so
// this package never needs to import the Redis wiring.
type followWriter interface {
	Follow(ctx context.Context, follower, followed core.UserID, followedUsername string) error
	Unfollow(ctx context.Context, follower, followed core.UserID) error
}

type handlers struct {
	core  *core.GraphCore
	store followWriter
	log   *zap.Logger
}

type userInfoDTO struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
	Online   *bool  `json:"online,omitempty"`
}

func toDTO(u core.UserInfo) userInfoDTO {
	dto := userInfoDTO{ID: uint64(u.ID), Username: u.Username}
	if u.HasMeta {
		online := u.Meta.Online
		dto.Online = &online
	}
	return dto
}

func parseUserID(c *gin.Context, param string) (core.UserID, bool) {
	raw := c.Param(param)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid user id"})
		return 0, false
	}
	return core.UserID(id), true
}

// followed handles GET /api/v1/users/:id/followed.
func (h *handlers) followed(c *gin.Context) {
	id, ok := parseUserID(c, "id")
	if !ok {
		return
	}

	users, err := h.core.Followed(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		if errors.Is(err, context.DeadlineExceeded) {
			c.JSON(http.StatusGatewayTimeout, gin.H{"message": "backing store timed out"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"message": err.Error()})
		return
	}

	out := make([]userInfoDTO, 0, len(users))
	for _, u := range users {
		out = append(out, toDTO(u))
	}
	c.JSON(http.StatusOK, gin.H{"followed": out})
}

type tellReq struct {
	Online bool `json:"online"`
}

// tell handles POST /api/v1/users/:id/tell.
func (h *handlers) tell(c *gin.Context) {
	id, ok := parseUserID(c, "id")
	if !ok {
		return
	}

	var req tellReq
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	watchers := h.core.Tell(id, core.Meta{Online: req.Online})

	ids := make([]uint64, len(watchers))
	for i, w := range watchers {
		ids[i] = uint64(w)
	}
	c.JSON(http.StatusOK, gin.H{"notify": ids})
}

type followReq struct {
	Follower         uint64 `json:"follower"`
	Followed         uint64 `json:"followed"`
	FollowedUsername string `json:"followed_username"`
}

// follow handles POST /api/v1/follow. It writes through to the
// authoritative backing store first, then mutates the in-memory cache's
// edges only if that write succeeds, so the two never diverge on a
// partial failure.
func (h *handlers) follow(c *gin.Context) {
	var req followReq
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	follower, followed := core.UserID(req.Follower), core.UserID(req.Followed)
	if err := h.store.Follow(c.Request.Context(), follower, followed, req.FollowedUsername); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"message": err.Error()})
		return
	}

	h.core.Follow(follower, followed)
	c.Status(http.StatusNoContent)
}

// unfollow handles DELETE /api/v1/follow, writing through to the
// backing store before updating the in-memory cache's edges.
func (h *handlers) unfollow(c *gin.Context) {
	var req followReq
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	follower, followed := core.UserID(req.Follower), core.UserID(req.Followed)
	if err := h.store.Unfollow(c.Request.Context(), follower, followed); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"message": err.Error()})
		return
	}

	h.core.Unfollow(follower, followed)
	c.Status(http.StatusNoContent)
}

// healthz handles GET /healthz.
func (h *handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// stats handles GET /debug/stats: slot occupancy introspection only,
// not part of the cache's own semantics.
func (h *handlers) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.core.Stats())
}
