// README: Trip handlers for submission and the dispatch snapshot.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/dispatch"
	"dispatch/internal/modules/trip"
	"dispatch/internal/types"
)

type TripHandler struct {
	dispatch *dispatch.Service
}

func NewTripHandler(svc *dispatch.Service) *TripHandler {
	return &TripHandler{dispatch: svc}
}

type submitTripReq struct {
	TripID         string              `json:"tripId"`
	Customer       trip.CustomerRef    `json:"customer"`
	Vendor         *trip.VendorRef     `json:"vendor"`
	VehicleNumber  string              `json:"vehicleNumber"`
	VehicleClass   string              `json:"vehicleClass"`
	Alternative    bool                `json:"alternative"`
	ItemTypes      []string            `json:"itemTypes"`
	ItemPrice      int64               `json:"itemPrice"`
	FixedPrice     int64               `json:"fixedPrice"`
	Discounts      *trip.Discounts     `json:"discounts"`
	RoutedPath     []types.Coordinates `json:"routedPath"`
	SchedulingDate *time.Time          `json:"schedulingDate"`
}

func (h *TripHandler) Submit(c *gin.Context) {
	var req submitTripReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Discounts != nil && (req.Discounts.Item < 0 || req.Discounts.Item > 1 || req.Discounts.Delivery < 0 || req.Discounts.Delivery > 1) {
		writeError(c, http.StatusBadRequest, "discounts must be between 0 and 1")
		return
	}
	t, err := h.dispatch.SubmitTrip(c.Request.Context(), dispatch.SubmitCommand{
		TripID:         types.ID(req.TripID),
		Customer:       req.Customer,
		Vendor:         req.Vendor,
		VehicleNumber:  req.VehicleNumber,
		VehicleClass:   req.VehicleClass,
		Alternative:    req.Alternative,
		ItemTypes:      req.ItemTypes,
		ItemPrice:      req.ItemPrice,
		FixedPrice:     req.FixedPrice,
		Discounts:      req.Discounts,
		RoutedPath:     req.RoutedPath,
		SchedulingDate: req.SchedulingDate,
	})
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, t)
}

func (h *TripHandler) Snapshot(c *gin.Context) {
	writeJSON(c, http.StatusOK, dispatch.OnConnection{
		OnlineDrivers: h.dispatch.Drivers(),
		Snapshot:      h.dispatch.Snapshot(),
	})
}
