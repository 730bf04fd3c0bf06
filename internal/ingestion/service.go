package ingestion

import (
	"github.com/gin-gonic/gin"

	"github.com/feedline-io/feedline/internal/core/storage"
	"github.com/feedline-io/feedline/internal/verbs"
)

type Service struct {
	registry         *verbs.Registry
	queue            storage.EventQueue
	maxBodySizeBytes int
}

func NewService(registry *verbs.Registry, queue storage.EventQueue, maxBodySizeMB int) *Service {
	if registry == nil {
		panic("ingestion: verb registry must not be nil")
	}
	if queue == nil {
		panic("ingestion: queue must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		registry:         registry,
		queue:            queue,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/events", s.IngestHandler)
}
