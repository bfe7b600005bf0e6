// README: Driver handlers for nearby lookup and session logout.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/dispatch"
	"dispatch/internal/types"
)

type DriverHandler struct {
	dispatch      *dispatch.Service
	defaultRadius float64
}

func NewDriverHandler(svc *dispatch.Service, defaultRadiusKm float64) *DriverHandler {
	if defaultRadiusKm <= 0 {
		defaultRadiusKm = 3
	}
	return &DriverHandler{dispatch: svc, defaultRadius: defaultRadiusKm}
}

func (h *DriverHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	radius := h.defaultRadius
	if v := c.Query("radiusKm"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid radiusKm")
			return
		}
		radius = r
	}
	found, err := h.dispatch.Nearby(c.Request.Context(), types.Coordinates{Lat: lat, Lng: lng}, radius)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": found})
}

func (h *DriverHandler) Logout(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing driver id")
		return
	}
	if err := h.dispatch.Logout(c.Request.Context(), types.ID(id)); err != nil {
		writeDispatchError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
