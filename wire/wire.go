// Package wire holds the message shape exchanged over the console websocket.
package wire

import (
	"encoding/json"
	"fmt"
)

// Path is the websocket endpoint served next to the QoS page.
const Path = "/console_websocket"

// Message is one update for the panel: text to append to the console and
// the current write rate in MB/s.
type Message struct {
	Console string  `json:"console"`
	Rate    float64 `json:"rate"`
}

// Decode parses an inbound message. Missing fields decode as zero values.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode console message: %w", err)
	}
	return msg, nil
}

// Encode renders a message for sending.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
