package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	sessionRoom   = "room"
	sessionMember = "member"
)

type roomHandlers struct {
	relay *app.Relay
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, domain.ErrMemberNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrMemberExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSignalingDeliveryFailure):
		return http.StatusBadGateway
	}
	return http.StatusBadRequest
}

// POST /api/create-room
func (h *roomHandlers) create(c *gin.Context) {
	info := h.relay.Rooms.Create()
	c.JSON(http.StatusOK, gin.H{"success": true, "roomId": info.ID})
}

// POST /api/join-room/:roomId with an optional {"userId"}. The member id is remembered in the cookie session.
func (h *roomHandlers) join(c *gin.Context) {
	var req struct {
		UserID string `json:"userId"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	room := domain.RoomID(c.Param("roomId"))
	id, members, err := h.relay.Rooms.Join(room, domain.MemberID(req.UserID))
	if err != nil {
		fail(c, statusOf(err), err.Error())
		return
	}

	s := sessions.Default(c)
	s.Set(sessionRoom, string(room))
	s.Set(sessionMember, string(id))
	if err := s.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "roomId": room, "userId": id, "participants": members})
}

// POST /api/leave-room {"roomId", "userId"}; missing fields fall back to the cookie session.
func (h *roomHandlers) leave(c *gin.Context) {
	var req struct {
		RoomID string `json:"roomId"`
		UserID string `json:"userId"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	s := sessions.Default(c)
	if req.RoomID == "" && req.UserID == "" {
		req.RoomID, _ = s.Get(sessionRoom).(string)
		req.UserID, _ = s.Get(sessionMember).(string)
	}
	if req.RoomID == "" || req.UserID == "" {
		fail(c, http.StatusBadRequest, "roomId and userId are required")
		return
	}
	if err := h.relay.LeaveMember(domain.RoomID(req.RoomID), domain.MemberID(req.UserID)); err != nil {
		fail(c, statusOf(err), err.Error())
		return
	}
	if cur, _ := s.Get(sessionMember).(string); cur == req.UserID {
		s.Delete(sessionRoom)
		s.Delete(sessionMember)
		_ = s.Save()
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GET /api/room-status/:roomId
func (h *roomHandlers) status(c *gin.Context) {
	info, err := h.relay.Rooms.Status(domain.RoomID(c.Param("roomId")))
	if err != nil {
		fail(c, statusOf(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"roomId":       info.ID,
		"participants": info.Participants,
		"users":        info.Members,
	})
}

// GET /api/rooms
func (h *roomHandlers) list(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "rooms": h.relay.Rooms.List()})
}

// POST /api/signal {"roomId", "userId", "targetId", "signal"} forwards an envelope to a connected member.
func (h *roomHandlers) signal(c *gin.Context) {
	var req struct {
		RoomID   string           `json:"roomId"`
		UserID   string           `json:"userId"`
		TargetID string           `json:"targetId"`
		Signal   *domain.Envelope `json:"signal"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RoomID == "" || req.UserID == "" || req.TargetID == "" || req.Signal == nil {
		fail(c, http.StatusBadRequest, "roomId, userId, targetId and signal are required")
		return
	}
	if _, err := h.relay.Rooms.Status(domain.RoomID(req.RoomID)); err != nil {
		fail(c, statusOf(err), err.Error())
		return
	}
	env := *req.Signal
	env.RoomID = domain.RoomID(req.RoomID)
	env.FromID = domain.MemberID(req.UserID)
	env.ToID = domain.MemberID(req.TargetID)

	delivered, err := h.relay.Deliver(env)
	if err != nil && !errors.Is(err, domain.ErrSignalingDeliveryFailure) {
		fail(c, statusOf(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "delivered": delivered})
}
