package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/rlourenco/emissor/internal/models"
)

func TestPublishReachesSubscriber(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	received := make(chan models.Event, 1)
	svc.Subscribe(models.EventRecordFinished, func(event models.Event) {
		received <- event
	})

	svc.Publish(models.Event{
		Type:    models.EventRecordFinished,
		RunID:   "run-1",
		Payload: map[string]any{"row": 3},
	})

	select {
	case event := <-received:
		assert.Equal(t, "run-1", event.RunID)
		assert.Equal(t, 3, event.Payload["row"])
		assert.False(t, event.Timestamp.IsZero(), "timestamp should be stamped on publish")
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestPublishOnlyMatchingType(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	received := make(chan models.Event, 1)
	svc.Subscribe(models.EventRunStarted, func(event models.Event) {
		received <- event
	})

	svc.Publish(models.Event{Type: models.EventRunFinished})

	select {
	case <-received:
		t.Fatal("handler received an event of another type")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPanickingHandlerDoesNotAffectOthers(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	svc.Subscribe(models.EventRunStarted, func(event models.Event) {
		panic("observer bug")
	})

	received := make(chan struct{}, 1)
	svc.Subscribe(models.EventRunStarted, func(event models.Event) {
		received <- struct{}{}
	})

	svc.Publish(models.Event{Type: models.EventRunStarted})

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("second handler never ran")
	}
}

func TestSubscribeNilHandlerIgnored(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	svc.Subscribe(models.EventRunStarted, nil)

	require.NotPanics(t, func() {
		svc.Publish(models.Event{Type: models.EventRunStarted})
	})
}
