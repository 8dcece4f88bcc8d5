package model

import "encoding/json"

// MessageType tags one discrete message of the response stream.
type MessageType string

const (
	MessageGeocodeResult MessageType = "geocodeResult"
	MessageImageResult   MessageType = "imageResult"
	MessageError         MessageType = "error"
	MessageComplete      MessageType = "complete"
)

// Terminal reports whether the message type ends the operation.
func (t MessageType) Terminal() bool {
	return t == MessageError || t == MessageComplete
}

// StreamMessage is one discrete message of the inbound stream.
// Payload decoding depends on Type.
type StreamMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// GeocodePayload is the payload of a geocodeResult message. A per-item
// remote failure arrives here with Result.Error set; only transport or
// protocol failures use the error message type.
type GeocodePayload struct {
	Index  int       `json:"index"`
	Result GeoResult `json:"result"`

	// FromCache echoes the client's cache hint: the service skipped
	// resolution and the result must not be written back to the cache.
	FromCache bool `json:"fromCache,omitempty"`

	// Percent is the service's authoritative progress, when it reports one.
	Percent *float64 `json:"percent,omitempty"`
}

// ImagePayload is the payload of an imageResult message.
type ImagePayload struct {
	Index           int      `json:"index"`
	SatelliteImage  string   `json:"satelliteImage,omitempty"`
	StreetViewImage string   `json:"streetViewImage,omitempty"`
	Percent         *float64 `json:"percent,omitempty"`
}

// ErrorPayload is the payload of an error message. It aborts the run.
type ErrorPayload struct {
	Message string `json:"message"`
}
