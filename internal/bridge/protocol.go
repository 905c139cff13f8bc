package bridge

import (
	"encoding/json"

	"github.com/cardbank/cardbank/internal/model"
)

// MessageType defines the type of a channel message
type MessageType string

// Inbound message types (UI to core)
const (
	// MessageTypeSaveData requests a full merged save of the card bank
	MessageTypeSaveData MessageType = "SAVE_DATA"

	// MessageTypeAddToBank requests new cards be folded into the bank
	MessageTypeAddToBank MessageType = "ADD_TO_BANK"

	// MessageTypeRequestUpdatedData requests a fresh copy of the record
	MessageTypeRequestUpdatedData MessageType = "REQUEST_UPDATED_DATA"

	// MessageTypeRequestRecordID requests the user's record id lookup
	MessageTypeRequestRecordID MessageType = "REQUEST_RECORD_ID"

	// MessageTypeRequestTokenRefresh requests a bearer token refresh
	MessageTypeRequestTokenRefresh MessageType = "REQUEST_TOKEN_REFRESH"
)

// Outbound message types (core to UI)
const (
	// MessageTypeSaveResult reports the outcome of a queued save
	MessageTypeSaveResult MessageType = "SAVE_RESULT"

	// MessageTypeAddToBankResult reports the outcome of an add-to-bank
	MessageTypeAddToBankResult MessageType = "ADD_TO_BANK_RESULT"

	// MessageTypeBankData carries the refreshed record contents
	MessageTypeBankData MessageType = "KNACK_DATA"

	// MessageTypeDataRefreshError reports a failed data refresh
	MessageTypeDataRefreshError MessageType = "DATA_REFRESH_ERROR"

	// MessageTypeRecordIDResponse carries a resolved record id
	MessageTypeRecordIDResponse MessageType = "RECORD_ID_RESPONSE"

	// MessageTypeRecordIDError reports a failed record id lookup
	MessageTypeRecordIDError MessageType = "RECORD_ID_ERROR"

	// MessageTypeAuthRefreshResult reports the outcome of a token refresh
	MessageTypeAuthRefreshResult MessageType = "AUTH_REFRESH_RESULT"
)

// Message is the envelope every channel message travels in
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage wraps a payload in an envelope. Marshal failures are
// reported as an error payload rather than dropped silently.
func NewMessage(t MessageType, payload any) Message {
	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(ErrorData{Error: err.Error()})
	}
	return Message{Type: t, Data: data}
}

// SaveRequest is the SAVE_DATA payload
type SaveRequest struct {
	RecordID       string      `json:"recordId"`
	Payload        SavePayload `json:"payload"`
	PreserveFields bool        `json:"preserveFields"`
}

// SavePayload carries the UI's working copy of the bank. Cards arrive
// either as a JSON array or as a JSON-encoded string of one, so the
// field stays raw until the handler decodes it.
type SavePayload struct {
	Cards      json.RawMessage       `json:"cards"`
	TopicLists []model.TopicList     `json:"topicLists"`
	ColorMap   model.ColorMap        `json:"colorMapping"`
	Metadata   []model.TopicMetadata `json:"topicMetadata"`
}

// AddToBankRequest is the ADD_TO_BANK payload
type AddToBankRequest struct {
	RecordID string       `json:"recordId"`
	Cards    []model.Card `json:"cards"`
}

// RefreshRequest is the REQUEST_UPDATED_DATA payload
type RefreshRequest struct {
	RecordID string `json:"recordId"`
}

// SaveResult is the SAVE_RESULT payload
type SaveResult struct {
	Success bool   `json:"success"`
	Queued  bool   `json:"queued,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AddToBankResult is the ADD_TO_BANK_RESULT payload
type AddToBankResult struct {
	Success      bool   `json:"success"`
	ShouldReload bool   `json:"shouldReload"`
	Error        string `json:"error,omitempty"`
}

// BankData is the KNACK_DATA payload
type BankData struct {
	Cards      []any                 `json:"cards"`
	ColorMap   model.ColorMap        `json:"colorMapping"`
	TopicLists []model.TopicList     `json:"topicLists"`
	Metadata   []model.TopicMetadata `json:"topicMetadata"`
	RecordID   string                `json:"recordId"`
	Auth       string                `json:"auth,omitempty"`
}

// ErrorData is the payload of DATA_REFRESH_ERROR and RECORD_ID_ERROR
type ErrorData struct {
	Error string `json:"error"`
}

// RecordIDResponse is the RECORD_ID_RESPONSE payload
type RecordIDResponse struct {
	RecordID string `json:"recordId"`
}

// AuthRefreshResult is the AUTH_REFRESH_RESULT payload
type AuthRefreshResult struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
}
