package livechat

import (
	"encoding/json"
	"strings"
)

// DefaultModel is the model used when Config.Model is empty.
const DefaultModel = "gemini-2.0-flash-live-001"

// Role represents the author of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// --- Client -> Server ---

// SetupFrame is the first frame sent on a new connection.
type SetupFrame struct {
	Setup Setup `json:"setup"`
}

// Setup configures the live session.
type Setup struct {
	Model string `json:"model"`
}

// ClientContentFrame carries conversation turns from the client.
type ClientContentFrame struct {
	ClientContent ClientContent `json:"clientContent"`
}

// ClientContent is the payload of a clientContent frame.
type ClientContent struct {
	Turns        []Content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

// Content is a single conversation turn.
type Content struct {
	Role  Role   `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is one piece of a turn. Only text parts are produced by this package.
type Part struct {
	Text string `json:"text,omitempty"`
}

// NewSetupFrame creates a setup frame for the given model.
func NewSetupFrame(model string) *SetupFrame {
	return &SetupFrame{Setup: Setup{Model: modelResource(model)}}
}

// NewUserTextFrame creates a completed user turn containing text.
func NewUserTextFrame(text string) *ClientContentFrame {
	return &ClientContentFrame{
		ClientContent: ClientContent{
			Turns: []Content{{
				Role:  RoleUser,
				Parts: []Part{{Text: text}},
			}},
			TurnComplete: true,
		},
	}
}

// modelResource normalizes a model name to its "models/<name>" resource form.
func modelResource(model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

// --- Server -> Client ---

// ServerMessage is a decoded server frame. Sessions and adapters deliver raw
// frames; decoding is left to consumers that need it.
type ServerMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	Error         *ServerError   `json:"error,omitempty"`
}

// ServerContent is model output for the current turn.
type ServerContent struct {
	ModelTurn    *Content `json:"modelTurn,omitempty"`
	TurnComplete bool     `json:"turnComplete,omitempty"`
	Interrupted  bool     `json:"interrupted,omitempty"`
}

// ServerError is an error frame sent by the server or gateway.
type ServerError struct {
	Code    int    `json:"code,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message"`
}

// ParseServerMessage decodes a raw server frame.
func ParseServerMessage(raw json.RawMessage) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// IsSetupComplete returns true if this is the setup acknowledgement.
func (m *ServerMessage) IsSetupComplete() bool {
	return m.SetupComplete != nil
}

// IsError returns true if this is an error frame.
func (m *ServerMessage) IsError() bool {
	return m.Error != nil
}

// IsTurnComplete returns true if the model finished its turn.
func (m *ServerMessage) IsTurnComplete() bool {
	return m.ServerContent != nil && m.ServerContent.TurnComplete
}

// Text returns the concatenated text parts of the model turn, if any.
func (m *ServerMessage) Text() string {
	if m.ServerContent == nil || m.ServerContent.ModelTurn == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range m.ServerContent.ModelTurn.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}
