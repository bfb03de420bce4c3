package events

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/rlourenco/emissor/internal/interfaces"
	"github.com/rlourenco/emissor/internal/models"
)

// Service implements interfaces.EventService with a pub/sub pattern.
// Publishing is asynchronous and fire-and-forget: a slow or failing
// subscriber can never block or break the run.
type Service struct {
	subscribers map[models.EventType][]interfaces.EventHandler
	mu          sync.RWMutex
	logger      arbor.ILogger
}

// NewService creates a new event service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		subscribers: make(map[models.EventType][]interfaces.EventHandler),
		logger:      logger,
	}
}

// Subscribe registers a handler for an event type.
func (s *Service) Subscribe(eventType models.EventType, handler interfaces.EventHandler) {
	if handler == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[eventType] = append(s.subscribers[eventType], handler)

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", len(s.subscribers[eventType])).
		Msg("Event handler subscribed")
}

// Publish sends an event to all subscribers asynchronously. Handler
// panics are swallowed; observers are not allowed to take the run down.
func (s *Service) Publish(event models.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.RLock()
	handlers := s.subscribers[event.Type]
	s.mu.RUnlock()

	for _, handler := range handlers {
		go func(h interfaces.EventHandler) {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Warn().
						Str("event_type", string(event.Type)).
						Msgf("Event handler panicked: %v", r)
				}
			}()
			h(event)
		}(handler)
	}
}
