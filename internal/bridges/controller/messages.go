package controller

import (
	"time"

	"github.com/nerrad567/switchboard/internal/device"
)

// StateMessage is the retained payload on a device state topic.
type StateMessage struct {
	EventID    string            `json:"event_id,omitempty"`
	Device     string            `json:"device"`
	Active     bool              `json:"active"`
	Attributes device.Attributes `json:"attributes"`
	Version    int64             `json:"version"`
	Source     string            `json:"source,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`

	// Decoded views for the devices that carry attributes.
	Fan *device.FanState `json:"fan,omitempty"`
	AC  *device.ACState  `json:"ac,omitempty"`
}

// NewStateMessage builds the state payload for d.
func NewStateMessage(d device.Device, eventID, source string) StateMessage {
	msg := StateMessage{
		EventID:    eventID,
		Device:     d.Name,
		Active:     d.Active,
		Attributes: d.Attributes,
		Version:    d.Version,
		Source:     source,
		Timestamp:  d.UpdatedAt,
	}

	switch device.KindOf(d.Name) {
	case device.KindFan:
		st := device.DecodeFan(d)
		msg.Fan = &st
	case device.KindAC:
		st := device.DecodeAC(d)
		msg.AC = &st
	}

	return msg
}
