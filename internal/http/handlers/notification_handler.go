// README: Notification log listing.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dispatch/internal/modules/notification"
)

type NotificationLister interface {
	Recent(ctx context.Context, limit int64) ([]notification.Entry, error)
}

type NotificationHandler struct {
	store NotificationLister
	log   logrus.FieldLogger
}

func NewNotificationHandler(lister NotificationLister, log logrus.FieldLogger) *NotificationHandler {
	return &NotificationHandler{store: lister, log: log}
}

func (h *NotificationHandler) Recent(c *gin.Context) {
	if h.store == nil {
		writeJSON(c, http.StatusOK, gin.H{"notifications": []notification.Entry{}})
		return
	}
	var limit int64
	if v := c.Query("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := h.store.Recent(c.Request.Context(), limit)
	if err != nil {
		h.log.WithError(err).Error("notification log read failed")
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"notifications": entries})
}
