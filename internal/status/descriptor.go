// Package status infers what a coding agent is doing in a session.
//
// Agents that support hooks push a small JSON status descriptor into the
// session's state folder; the Tracker watches that file. Agents without
// hooks only append to a transcript, so the Tracker watches the transcript
// and derives activity from write bursts and the shape of the last entry.
package status

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the activity state of an agent session.
type Status string

const (
	Idle           Status = "idle"
	Working        Status = "working"
	WaitingForUser Status = "waiting_for_user"
	Error          Status = "error"
)

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case Idle, Working, WaitingForUser, Error:
		return true
	}
	return false
}

// Descriptor is the on-disk status file written by agent hooks.
type Descriptor struct {
	Status    Status     `json:"status"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// ParseDescriptor decodes a status descriptor. Malformed input, a missing
// status or an unknown status all yield nil.
func ParseDescriptor(data []byte) *Descriptor {
	var raw struct {
		Status    string          `json:"status"`
		Timestamp json.RawMessage `json:"timestamp"`
		Message   string          `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	s := Status(strings.TrimSpace(raw.Status))
	if !s.Valid() {
		return nil
	}

	d := &Descriptor{Status: s, Message: raw.Message}
	if len(raw.Timestamp) > 0 {
		// Hooks write either RFC 3339 strings or unix seconds.
		var ts time.Time
		var secs int64
		switch {
		case json.Unmarshal(raw.Timestamp, &ts) == nil:
			d.Timestamp = &ts
		case json.Unmarshal(raw.Timestamp, &secs) == nil:
			ts = time.Unix(secs, 0).UTC()
			d.Timestamp = &ts
		}
	}
	return d
}

// MarshalDescriptor encodes d the way ParseDescriptor expects it.
func MarshalDescriptor(d Descriptor) ([]byte, error) {
	return json.Marshal(d)
}
