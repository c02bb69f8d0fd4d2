package core

import (
	"time"

	"github.com/google/uuid"
)

type EventPacket struct {
	Event     IEvent
	Uid       string    // Unique identifier for tracking the event packet.
	Relayer   string    // Component that emitted the event.
	Timestamp time.Time // Emission time.
}

func NewEventPacket(event IEvent, relayer string) *EventPacket {
	return &EventPacket{
		Event:     event,
		Uid:       uuid.New().String(),
		Relayer:   relayer,
		Timestamp: time.Now(),
	}
}
