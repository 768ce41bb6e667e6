package bridge

import (
	"time"

	"xbridge/lib/automation"
)

// StatusPayload is the mixer_status event body.
type StatusPayload struct {
	Connected bool   `json:"connected"`
	Message   string `json:"message"`
}

// FirmwarePayload is the firmware_version event body.
type FirmwarePayload struct {
	Model    string `json:"model"`
	Firmware string `json:"firmware"`
}

// NamePayload is the channel-name event body.
type NamePayload struct {
	Channel int    `json:"channel"`
	Name    string `json:"name"`
}

// OperationPayload is the channel_operation_complete event body.
type OperationPayload struct {
	Operation string `json:"operation"`
	A         int    `json:"a"`
	B         int    `json:"b"`
}

// OperationErrorPayload is the channel_operation_error event body.
type OperationErrorPayload struct {
	Operation string `json:"operation"`
	A         int    `json:"a"`
	B         int    `json:"b"`
	Message   string `json:"message"`
}

// StatusSummary is the HTTP status endpoint body.
type StatusSummary struct {
	Connected    bool                    `json:"connected"`
	LastResponse time.Time               `json:"lastResponse,omitzero"`
	Model        string                  `json:"model,omitempty"`
	Firmware     string                  `json:"firmware,omitempty"`
	CurrentScene *int                    `json:"currentSceneId"`
	SpeakerMuted bool                    `json:"speakerMuted"`
	FaderStates  []automation.FaderState `json:"faderStates"`
}
