// README: Websocket gateways for drivers and operators; inbound events map onto dispatch operations.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dispatch/internal/http/middleware"
	"dispatch/internal/modules/dispatch"
	"dispatch/internal/modules/trip"
	"dispatch/internal/types"
	"dispatch/internal/ws"
)

var errPayload = errors.New("payload")

type SocketHandler struct {
	dispatch *dispatch.Service
	hub      *ws.Hub
	log      logrus.FieldLogger
}

func NewSocketHandler(svc *dispatch.Service, hub *ws.Hub, log logrus.FieldLogger) *SocketHandler {
	return &SocketHandler{dispatch: svc, hub: hub, log: log}
}

// Driver upgrades a driver connection. The driver id is the verified uid when
// auth is on, else the driverId query parameter.
func (h *SocketHandler) Driver(c *gin.Context) {
	driverID := middleware.CallerUID(c)
	if driverID == "" {
		driverID = c.Query("driverId")
	}
	if driverID == "" {
		writeError(c, http.StatusBadRequest, "missing driver id")
		return
	}
	session := &driverSession{
		ctx:      c.Request.Context(),
		dispatch: h.dispatch,
		hub:      h.hub,
		log:      h.log.WithField("driver_id", driverID),
	}
	if err := h.hub.Serve(c.Writer, c.Request, ws.RoleDriver, driverID, session); err != nil {
		h.log.WithError(err).Warn("driver socket upgrade failed")
	}
}

func (h *SocketHandler) Operator(c *gin.Context) {
	session := &operatorSession{
		ctx:      c.Request.Context(),
		dispatch: h.dispatch,
		hub:      h.hub,
		log:      h.log,
	}
	if err := h.hub.Serve(c.Writer, c.Request, ws.RoleOperator, middleware.CallerUID(c), session); err != nil {
		h.log.WithError(err).Warn("operator socket upgrade failed")
	}
}

func reply(hub *ws.Hub, log logrus.FieldLogger, c *ws.Client, msg ws.Message, data any, err error) {
	if err != nil {
		entry := log.WithFields(logrus.Fields{"event": msg.Event, "client_id": c.ID})
		if errors.Is(err, errPayload) {
			hub.Reply(c, msg, ws.Reply{Status: false, Message: "malformed payload"})
			return
		}
		if statusFor(err) >= http.StatusInternalServerError {
			entry.WithError(err).Error("socket event failed")
		} else {
			entry.WithError(err).Debug("socket event rejected")
		}
		hub.Reply(c, msg, ws.Reply{Status: false, Message: PublicMessage(err)})
		return
	}
	hub.Reply(c, msg, ws.Reply{Status: true, Data: data})
}

func decode(msg ws.Message, v any) error {
	if len(msg.Data) == 0 {
		return errPayload
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return errPayload
	}
	return nil
}

type tripIDPayload struct {
	TripID types.ID `json:"tripId"`
}

type markerPayload struct {
	Location types.Location `json:"location"`
	Time     time.Time      `json:"time"`
}

type driverSession struct {
	ctx      context.Context
	dispatch *dispatch.Service
	hub      *ws.Hub
	log      logrus.FieldLogger
}

func (s *driverSession) OnOpen(c *ws.Client) {
	var coords types.Coordinates
	if lat, err := strconv.ParseFloat(c.Query["lat"], 64); err == nil {
		if lng, err := strconv.ParseFloat(c.Query["lng"], 64); err == nil {
			coords = types.Coordinates{Lat: lat, Lng: lng}
		}
	}
	if _, _, err := s.dispatch.ConnectDriver(s.ctx, types.ID(c.UserID), c.ID, coords); err != nil {
		s.log.WithError(err).Warn("driver connect failed")
	}
}

func (s *driverSession) OnClose(c *ws.Client) {
	s.dispatch.DisconnectDriver(s.ctx, c.ID)
}

func (s *driverSession) OnMessage(c *ws.Client, msg ws.Message) {
	data, err := s.handle(types.ID(c.UserID), msg)
	reply(s.hub, s.log, c, msg, data, err)
}

func (s *driverSession) handle(driverID types.ID, msg ws.Message) (any, error) {
	ctx := s.ctx
	switch msg.Event {
	case "sendLocation":
		var p struct {
			Coords     types.Coordinates `json:"coords"`
			ClientDate *time.Time        `json:"clientDate"`
		}
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return nil, s.dispatch.UpdateLocation(ctx, driverID, p.Coords)

	case "acceptTrip":
		var p struct {
			TripID   types.ID       `json:"tripId"`
			Location types.Location `json:"location"`
			Time     time.Time      `json:"time"`
		}
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return s.dispatch.AcceptTrip(ctx, driverID, p.TripID, p.Location, p.Time)

	case "rejectTrip":
		var p tripIDPayload
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return nil, s.dispatch.RejectTrip(ctx, driverID, p.TripID)

	case "addWayPoint":
		var p struct {
			TripID   types.ID `json:"tripId"`
			WayPoint struct {
				markerPayload
				AtCustomer bool `json:"atCustomer"`
			} `json:"wayPoint"`
		}
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return s.dispatch.AddWayPoint(ctx, driverID, dispatch.WayPointCommand{
			TripID:     p.TripID,
			Location:   p.WayPoint.Location,
			Time:       p.WayPoint.Time,
			AtCustomer: p.WayPoint.AtCustomer,
		})

	case "changeState":
		var p struct {
			TripID    types.ID           `json:"tripId"`
			StateName dispatch.StateName `json:"stateName"`
			StateData markerPayload      `json:"stateData"`
		}
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return s.dispatch.ChangeState(ctx, driverID, dispatch.ChangeStateCommand{
			TripID:   p.TripID,
			Name:     p.StateName,
			Location: p.StateData.Location,
			Time:     p.StateData.Time,
		})

	case "cancelTrip":
		var p tripIDPayload
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return nil, s.dispatch.DriverCancelTrip(ctx, driverID, p.TripID)

	case "setAvailable":
		var p struct {
			Available bool `json:"available"`
		}
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return nil, s.dispatch.DriverSetAvailable(ctx, driverID, p.Available)

	case "endTrip":
		var p struct {
			TripID    types.ID           `json:"tripId"`
			Receipt   []trip.ReceiptLine `json:"receipt"`
			ItemPrice int64              `json:"itemPrice"`
			Location  types.Location     `json:"location"`
			Type      dispatch.EndType   `json:"type"`
			Time      time.Time          `json:"time"`
			Reason    string             `json:"reason"`
		}
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		res, err := s.dispatch.EndTrip(ctx, driverID, dispatch.EndTripCommand{
			TripID:    p.TripID,
			Receipt:   p.Receipt,
			ItemPrice: p.ItemPrice,
			Location:  p.Location,
			Type:      p.Type,
			Time:      p.Time,
			Reason:    p.Reason,
		})
		if err != nil || p.Type == dispatch.EndReturned {
			return nil, err
		}
		return res, nil

	case "logout":
		return nil, s.dispatch.Logout(ctx, driverID)

	default:
		return nil, unknownEvent(msg.Event)
	}
}

type operatorSession struct {
	ctx      context.Context
	dispatch *dispatch.Service
	hub      *ws.Hub
	log      logrus.FieldLogger
}

func (s *operatorSession) OnOpen(c *ws.Client) {
	s.dispatch.AttachOperator(c.ID)
}

func (s *operatorSession) OnClose(c *ws.Client) {}

func (s *operatorSession) OnMessage(c *ws.Client, msg ws.Message) {
	data, err := s.handle(msg)
	reply(s.hub, s.log, c, msg, data, err)
}

func (s *operatorSession) handle(msg ws.Message) (any, error) {
	ctx := s.ctx
	switch msg.Event {
	case "resetEnvironment":
		return nil, s.dispatch.Reset(ctx)

	case "assignRoutedPath":
		var p struct {
			TripID     types.ID            `json:"tripId"`
			RoutedPath []types.Coordinates `json:"routedPath"`
		}
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return nil, s.dispatch.SetRoutedPath(ctx, p.TripID, p.RoutedPath)

	case "assignNewDriver":
		var p struct {
			TripID   types.ID `json:"tripId"`
			DriverID types.ID `json:"driverId"`
		}
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return s.dispatch.AssignDriver(ctx, p.TripID, p.DriverID)

	case "setAvailable":
		var p struct {
			DriverID  types.ID `json:"driverId"`
			Available bool     `json:"available"`
		}
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return nil, s.dispatch.SetDriverAvailability(ctx, p.DriverID, p.Available)

	case "pullTrip":
		var p tripIDPayload
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return nil, s.dispatch.PullTrip(ctx, p.TripID)

	case "cancelTrip":
		var p tripIDPayload
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return nil, s.dispatch.CancelTrip(ctx, p.TripID)

	default:
		return nil, unknownEvent(msg.Event)
	}
}

func unknownEvent(event string) error {
	return fmt.Errorf("unknown event %q: %w", event, dispatch.ErrBadRequest)
}
