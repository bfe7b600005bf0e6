// README: Entity change relay for the external CRUD services.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/dispatch"
	"dispatch/internal/types"
)

type EntityHandler struct {
	dispatch *dispatch.Service
}

func NewEntityHandler(svc *dispatch.Service) *EntityHandler {
	return &EntityHandler{dispatch: svc}
}

type entityEventReq struct {
	Action   string          `json:"action"`
	Kind     string          `json:"kind"`
	ID       string          `json:"id"`
	Location *types.Location `json:"location"`
	Data     json.RawMessage `json:"data"`
}

func (h *EntityHandler) Publish(c *gin.Context) {
	var req entityEventReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	ev := dispatch.EntityEvent{ID: types.ID(req.ID), Location: req.Location}
	if len(req.Data) > 0 {
		ev.Data = req.Data
	}
	if err := h.dispatch.PublishEntityChange(req.Action, req.Kind, ev); err != nil {
		writeDispatchError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
