// Package protocol provides the bridge's wire types for external tools.
// This package is designed to be importable without pulling in server dependencies.
package protocol

import "time"

// TagAction names the platform discovery action that delivered a tag.
// The values are the Android NfcAdapter action strings so phones can forward
// intents unchanged.
type TagAction string

const (
	ActionNDEFDiscovered TagAction = "android.nfc.action.NDEF_DISCOVERED"
	ActionTechDiscovered TagAction = "android.nfc.action.TECH_DISCOVERED"
	ActionTagDiscovered  TagAction = "android.nfc.action.TAG_DISCOVERED"
)

// IsDiscovery reports whether a is one of the tag discovery actions.
func (a TagAction) IsDiscovery() bool {
	switch a {
	case ActionNDEFDiscovered, ActionTechDiscovered, ActionTagDiscovered:
		return true
	}
	return false
}

// TagIntent is a tag discovery as reported by a phone or tool.
// It is the body of POST /api/v1/tag and the payload of "tagDiscovered" messages.
type TagIntent struct {
	// Action is the discovery action. Empty is treated as NDEF_DISCOVERED.
	Action TagAction `json:"action,omitempty"`

	// UID is the tag's unique identifier in hex format (e.g., "04:AB:CD:EF:12:34:56")
	// Optional; supports "04:AB:CD:EF", "04ABCDEF", "04 AB CD EF", "04-AB-CD-EF"
	UID string `json:"uid,omitempty"`

	// Messages holds raw NDEF messages (base64 in JSON). Only the first is read.
	Messages [][]byte `json:"messages,omitempty"`

	// Memory holds raw tag memory with TLV blocks, used when Messages is empty.
	Memory []byte `json:"memory,omitempty"`

	// ScannedAt defaults to the server's receive time.
	ScannedAt *time.Time `json:"scannedAt,omitempty"`

	// Source identifies where this tag data came from (e.g., "http-api", "device")
	Source string `json:"source,omitempty"`
}

// TagInputResponse is the response structure for the POST /api/v1/tag endpoint.
type TagInputResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorCode string    `json:"errorCode,omitempty"`
	Event     *TagEvent `json:"event,omitempty"`
}

// Error codes for HTTP and WebSocket error responses
const (
	ErrCodeInvalidUID     = "INVALID_UID"
	ErrCodeInvalidIntent  = "INVALID_INTENT"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeIgnoredAction  = "IGNORED_ACTION"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)
