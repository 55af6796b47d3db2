// Package control is keyhole's local scripting surface: a loopback HTTP API that
// forwards transport commands into the routing controller, exposes the preferred
// player and status, and streams status changes over a websocket.
package control

import (
	"fmt"

	"github.com/offlinefirst/keyhole/pkg/mediakeys"
	"github.com/offlinefirst/keyhole/pkg/routing"
)

// Command names accepted by POST /v1/commands/{name}.
const (
	CommandPlayPause = "playpause"
	CommandNextTrack = "next-track"
	CommandBackTrack = "back-track"
)

// KeyForCommand maps an inbound command onto the key it simulates.
func KeyForCommand(name string) (mediakeys.Key, error) {
	switch name {
	case CommandPlayPause:
		return mediakeys.KeyPlayPause, nil
	case CommandNextTrack:
		return mediakeys.KeyNextTrack, nil
	case CommandBackTrack:
		return mediakeys.KeyPreviousTrack, nil
	default:
		return 0, fmt.Errorf("unknown command %q", name)
	}
}

type MessageType string

const (
	MsgStatus MessageType = "status"
)

// Message is one websocket frame.
type Message struct {
	Type    MessageType    `json:"type"`
	Payload routing.Status `json:"payload"`
}

// CommandResponse reports what happened to a simulated key press.
type CommandResponse struct {
	Command string `json:"command"`
	Result  string `json:"result"`
}

// PreferredAppResponse is the body of GET /v1/properties/preferred-app.
type PreferredAppResponse struct {
	BundleID string `json:"bundle_id"`
}

// SettingsRequest is the body of PUT /v1/settings.
type SettingsRequest struct {
	routing.Settings
	LogLevel *string `json:"log_level,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
