package models

import "time"

// Realtime message types
const (
	MessageJoin           = "join"
	MessageLeave          = "leave"
	MessageLocationUpdate = "location-update"
	MessageTrackingReset  = "tracking-reset"
	MessageError          = "error"
)

// DefaultResetMessage is sent with every daily reset broadcast.
const DefaultResetMessage = "Bus tracking has been reset for the day"

// PositionEvent is published to a unit's topic after each successful ingest.
type PositionEvent struct {
	UnitID    string    `json:"unitId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// ResetEvent is broadcast to every connection when positions are cleared.
type ResetEvent struct {
	Message string    `json:"message"`
	ResetAt time.Time `json:"resetAt"`
}

// ClientMessage is sent by a viewer over the realtime channel.
type ClientMessage struct {
	Type   string `json:"type"`
	UnitID string `json:"unitId"`
}

// ServerMessage is the envelope for everything the server pushes.
// Fields are populated according to Type.
type ServerMessage struct {
	Type      string     `json:"type"`
	UnitID    string     `json:"unitId,omitempty"`
	Latitude  *float64   `json:"latitude,omitempty"`
	Longitude *float64   `json:"longitude,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// LocationUpdate builds the server message for ev.
func (ev PositionEvent) LocationUpdate() ServerMessage {
	lat, lng, ts := ev.Latitude, ev.Longitude, ev.Timestamp
	return ServerMessage{
		Type:      MessageLocationUpdate,
		UnitID:    ev.UnitID,
		Latitude:  &lat,
		Longitude: &lng,
		Timestamp: &ts,
	}
}

// TrackingReset builds the server message for ev.
func (ev ResetEvent) TrackingReset() ServerMessage {
	ts := ev.ResetAt
	return ServerMessage{Type: MessageTrackingReset, Message: ev.Message, Timestamp: &ts}
}

// PositionEvent converts a location-update message back into an event.
// ok is false for any other message type or a message missing coordinates.
func (m ServerMessage) PositionEvent() (PositionEvent, bool) {
	if m.Type != MessageLocationUpdate || m.Latitude == nil || m.Longitude == nil {
		return PositionEvent{}, false
	}
	ev := PositionEvent{UnitID: m.UnitID, Latitude: *m.Latitude, Longitude: *m.Longitude}
	if m.Timestamp != nil {
		ev.Timestamp = *m.Timestamp
	}
	return ev, true
}
