package status

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
)

// tailSize bounds how much of a transcript is read to find its last entry.
const tailSize = 64 * 1024

// transcriptEntry covers the fields the supported agents use to mark the end
// of a turn.
type transcriptEntry struct {
	Type       string `json:"type"`
	Role       string `json:"role"`
	StopReason string `json:"stop_reason"`
	Payload    struct {
		Type string `json:"type"`
	} `json:"payload"`
	Message struct {
		Role       string `json:"role"`
		StopReason string `json:"stop_reason"`
	} `json:"message"`
}

var turnEndTypes = map[string]bool{
	"result":         true,
	"turn_complete":  true,
	"turn.completed": true,
	"task_complete":  true,
}

// completedTurn reports whether a transcript line marks a finished agent turn.
func completedTurn(line []byte) bool {
	var e transcriptEntry
	if err := json.Unmarshal(line, &e); err != nil {
		return false
	}
	if turnEndTypes[e.Type] || turnEndTypes[e.Payload.Type] {
		return true
	}

	role, stop := e.Role, e.StopReason
	if role == "" {
		role = e.Message.Role
	}
	if stop == "" {
		stop = e.Message.StopReason
	}
	if role == "" && (e.Type == "assistant" || e.Type == "model") {
		role = e.Type
	}
	if role != "assistant" && role != "model" {
		return false
	}
	return stop == "" || stop == "end_turn" || stop == "stop"
}

// lastLine returns the last non-empty line of the file at path.
func lastLine(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	offset := max(info.Size()-tailSize, 0)
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	data = bytes.TrimRight(data, "\r\n\t ")
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[i+1:]
	}
	return bytes.TrimSpace(data), nil
}
