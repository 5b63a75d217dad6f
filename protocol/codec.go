package protocol

// DecodeRequest asks the bridge to decode a text record.
// Exactly one of Payload, Message or Memory should be set.
type DecodeRequest struct {
	Payload  []byte `json:"payload,omitempty"`  // Text record payload (base64 in JSON)
	Message  []byte `json:"message,omitempty"`  // NDEF message; its first record is decoded
	Memory   []byte `json:"memory,omitempty"`   // Tag memory holding an NDEF TLV
	Fallback string `json:"fallback,omitempty"` // "base64" or "none"; defaults to server policy
}

// DecodeResponse is the result of a DecodeRequest.
type DecodeResponse struct {
	Success   bool   `json:"success"`
	Language  string `json:"language,omitempty"`
	Text      string `json:"text"`
	Encoding  string `json:"encoding,omitempty"`
	Recovered bool   `json:"recovered,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}

// EncodeRequest asks the bridge to build a text record.
type EncodeRequest struct {
	Language string `json:"language"`
	Text     string `json:"text"`
	Encoding string `json:"encoding,omitempty"` // "utf-8" (default) or "utf-16"
}

// EncodeResponse carries the encoded payload and the single-record message wrapping it.
type EncodeResponse struct {
	Success   bool   `json:"success"`
	Payload   []byte `json:"payload,omitempty"`
	Message   []byte `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}
