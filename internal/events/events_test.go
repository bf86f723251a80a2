package events

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_Publish(t *testing.T) {
	logger := zerolog.New(io.Discard)
	bus := NewEventBus(&logger)
	ctx := context.Background()

	var typed, all []Event
	bus.Subscribe(TypeScheduleCreated, func(_ context.Context, e Event) error {
		typed = append(typed, e)
		return errors.New("sink down")
	})
	bus.SubscribeAll(func(_ context.Context, e Event) error {
		all = append(all, e)
		return nil
	})

	bus.Publish(ctx, Event{Type: TypeScheduleCreated, EntityID: "b1"})
	bus.Publish(ctx, Event{Type: TypeEscalationsResolved, EntityID: "b1"})

	require.Len(t, typed, 1)
	assert.NotEmpty(t, typed[0].ID)
	assert.False(t, typed[0].CreatedAt.IsZero())
	assert.Len(t, all, 2, "a failing handler does not stop the others")
}
