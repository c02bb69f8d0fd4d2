package core

type IEvent interface {
	GetId() string // Returns the unique identifier of the event type.
}

// EventListener receives engine events synchronously, in emission order.
// Listeners must not call back into the engine that emitted the event.
type EventListener func(packet *EventPacket)
