// Package feeds is the materialized read side: it serves the per-recipient
// feed and notification streams that the collector's sinks write, over the
// same FeedStore.
package feeds

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/feedline-io/feedline/internal/core/activity"
	httperr "github.com/feedline-io/feedline/internal/core/errors"
	"github.com/feedline-io/feedline/internal/core/storage"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

type Service struct {
	store storage.FeedStore
}

func NewService(store storage.FeedStore) *Service {
	if store == nil {
		panic("feeds: store must not be nil")
	}
	return &Service{store: store}
}

// RegisterRoutes registers the feed read endpoints.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/feeds/:recipient_id", s.listHandler(activity.StreamActivity))
	r.GET("/v1/notifications/:recipient_id", s.listHandler(activity.StreamNotification))
}

func (s *Service) listHandler(stream activity.Stream) gin.HandlerFunc {
	return func(c *gin.Context) {
		recipientID := c.Param("recipient_id")

		limit, offset, ok := parsePage(c)
		if !ok {
			return
		}

		entries, err := s.store.ListFeed(c.Request.Context(), recipientID, stream, limit, offset)
		if err != nil {
			slog.Error("Failed to list feed entries",
				"recipient_id", recipientID,
				"stream", stream,
				"error", err)
			c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
				ErrorType: httperr.HttpInternalError,
				Message:   "Failed to load entries",
			})
			return
		}

		if entries == nil {
			entries = []*activity.Activity{}
		}
		c.JSON(http.StatusOK, gin.H{
			"recipient_id": recipientID,
			"stream":       stream,
			"entries":      entries,
			"count":        len(entries),
		})
	}
}

// parsePage reads limit/offset query params, writing the error response
// itself when they are malformed.
func parsePage(c *gin.Context) (limit, offset int, ok bool) {
	limit = defaultPageLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpValidationError,
				Message:   "limit must be a positive integer",
			})
			return 0, 0, false
		}
		limit = n
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpValidationError,
				Message:   "offset must be a non-negative integer",
			})
			return 0, 0, false
		}
		offset = n
	}

	return limit, offset, true
}
