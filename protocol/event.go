package protocol

// EventNFCTag is the listener event emitted for every processed tag.
const EventNFCTag = "nfcTag"

// DefaultNoMessageText is the event text for tags that carry no NDEF message.
const DefaultNoMessageText = "no NDEF message found"

// TagEvent is the payload delivered to "nfcTag" listeners.
// Text alone is what a minimal listener needs; the other fields describe how
// it was obtained.
type TagEvent struct {
	Text      string  `json:"text"`
	Language  string  `json:"language,omitempty"`    // Language code exactly as stored on the tag
	Tag       string  `json:"languageTag,omitempty"` // Canonical BCP 47 form, when the code parses
	Encoding  string  `json:"encoding,omitempty"`
	UID       string  `json:"uid,omitempty"`
	Source    string  `json:"source,omitempty"`
	ScannedAt string  `json:"scannedAt,omitempty"` // RFC3339 format
	Recovered bool    `json:"recovered,omitempty"` // Text came from the fallback policy
	Error     *string `json:"err"`
	ErrorCode string  `json:"errorCode,omitempty"`
}
