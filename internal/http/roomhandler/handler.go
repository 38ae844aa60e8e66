package roomhandler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"syncstart/internal/services/room"
)

type Handler struct {
	svc room.IRoomService
}

func New(svc room.IRoomService) *Handler { return &Handler{svc: svc} }

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/rooms", h.list)
	r.GET("/rooms/:id", h.info)
}

// @Summary		List live rooms
// @Description	Returns a page of live rooms, oldest first. Read only.
// @Tags			Rooms
// @Param			limit	query		int	false	"Max results (0‑100)"	minimum(0)	maximum(100)	default(20)
// @Param			offset	query		int	false	"Offset for pagination"	minimum(0)	default(0)
// @Success		200		{object}	ListRoomsResponse
// @Failure		400		{object}	ErrorResponse
// @Router			/rooms [get]
func (h *Handler) list(c *gin.Context) {
	var q ListRoomsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	// limit=0 only counts.
	var infos []room.RoomInfo
	total := h.svc.Count()
	if q.Limit > 0 {
		infos, total = h.svc.ListRooms(q.Limit, q.Offset)
	}
	out := ListRoomsResponse{
		Rooms:  make([]RoomView, 0, len(infos)),
		Total:  total,
		Limit:  q.Limit,
		Offset: q.Offset,
	}
	for _, info := range infos {
		out.Rooms = append(out.Rooms, view(info))
	}
	c.JSON(http.StatusOK, out)
}

// @Summary		Get room details
// @Description	Returns a single live room. Client handles are never exposed.
// @Tags			Rooms
// @Param			id	path		string	true	"Room ID"	default(K7M-2QX)
// @Success		200	{object}	RoomView
// @Failure		404	{object}	ErrorResponse
// @Router			/rooms/{id} [get]
func (h *Handler) info(c *gin.Context) {
	info, ok := h.svc.Info(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}
	c.JSON(http.StatusOK, view(info))
}

func view(info room.RoomInfo) RoomView {
	return RoomView{
		ID:         info.ID,
		MasterID:   info.MasterID,
		CreatedAt:  info.CreatedAt.UTC().Format(time.RFC3339),
		Clients:    info.Clients,
		Peak:       info.Peak,
		AgeSeconds: info.AgeSeconds,
	}
}
