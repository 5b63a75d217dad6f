package nfc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode identifies the kind of codec failure for programmatic handling.
type ErrorCode int

const (
	// Text record payload errors (100-199)
	ErrCodeEmptyPayload ErrorCode = iota + 100
	ErrCodeTruncatedLanguageCode
	ErrCodeInvalidEncoding
	ErrCodeLanguageCodeTooLong
	ErrCodeUnsupportedEncoding
	ErrCodeInvalidLanguageCode
)

const (
	// Message framing errors (200-299)
	ErrCodeNoMessage ErrorCode = iota + 200
	ErrCodeTruncatedRecord
	ErrCodeNotTextRecord
	ErrCodeNoNDEFTLV
	ErrCodeChunkedRecord
)

var errorCodeNames = map[ErrorCode]string{
	ErrCodeEmptyPayload:          "empty_payload",
	ErrCodeTruncatedLanguageCode: "truncated_language_code",
	ErrCodeInvalidEncoding:       "invalid_encoding",
	ErrCodeLanguageCodeTooLong:   "language_code_too_long",
	ErrCodeUnsupportedEncoding:   "unsupported_encoding",
	ErrCodeInvalidLanguageCode:   "invalid_language_code",
	ErrCodeNoMessage:             "no_message",
	ErrCodeTruncatedRecord:       "truncated_record",
	ErrCodeNotTextRecord:         "not_text_record",
	ErrCodeNoNDEFTLV:             "no_ndef_tlv",
	ErrCodeChunkedRecord:         "chunked_record",
}

// String returns a stable snake_case label, suitable for metrics and wire codes.
func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("error_%d", int(c))
}

// ParseErrorCode is the inverse of ErrorCode.String.
func ParseErrorCode(s string) (ErrorCode, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for code, name := range errorCodeNames {
		if name == s {
			return code, true
		}
	}
	return 0, false
}

// CodecError provides structured error information for programmatic handling.
type CodecError struct {
	Code    ErrorCode
	Op      string // Operation that failed (e.g., "DecodeTextRecord")
	Message string // Human-readable message
}

func (e *CodecError) Error() string {
	var sb strings.Builder
	sb.WriteString("ndef: ")
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	return sb.String()
}

// Is reports whether target is a CodecError with the same code, so the
// sentinels below match any error of their kind regardless of Op or Message.
func (e *CodecError) Is(target error) bool {
	if t, ok := target.(*CodecError); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for use with errors.Is.
var (
	ErrEmptyPayload          = &CodecError{Code: ErrCodeEmptyPayload, Message: "empty payload"}
	ErrTruncatedLanguageCode = &CodecError{Code: ErrCodeTruncatedLanguageCode, Message: "truncated language code"}
	ErrInvalidEncoding       = &CodecError{Code: ErrCodeInvalidEncoding, Message: "invalid text encoding"}
	ErrLanguageCodeTooLong   = &CodecError{Code: ErrCodeLanguageCodeTooLong, Message: "language code too long"}
	ErrUnsupportedEncoding   = &CodecError{Code: ErrCodeUnsupportedEncoding, Message: "unsupported encoding"}
	ErrInvalidLanguageCode   = &CodecError{Code: ErrCodeInvalidLanguageCode, Message: "invalid language code"}
	ErrNoMessage             = &CodecError{Code: ErrCodeNoMessage, Message: "empty NDEF message"}
	ErrTruncatedRecord       = &CodecError{Code: ErrCodeTruncatedRecord, Message: "truncated record"}
	ErrNotTextRecord         = &CodecError{Code: ErrCodeNotTextRecord, Message: "not a text record"}
	ErrNoNDEFTLV             = &CodecError{Code: ErrCodeNoNDEFTLV, Message: "no NDEF message TLV"}
	ErrChunkedRecord         = &CodecError{Code: ErrCodeChunkedRecord, Message: "chunked record"}
)

// Errorf creates a CodecError with a formatted message.
func Errorf(code ErrorCode, op, format string, args ...any) *CodecError {
	return &CodecError{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// GetErrorCode extracts the ErrorCode from an error if it's a CodecError.
// Returns 0 if the error is not a CodecError.
func GetErrorCode(err error) ErrorCode {
	var codecErr *CodecError
	if errors.As(err, &codecErr) {
		return codecErr.Code
	}
	return 0
}

// IsDecodeError reports whether err is one of the text payload decode kinds.
func IsDecodeError(err error) bool {
	switch GetErrorCode(err) {
	case ErrCodeEmptyPayload, ErrCodeTruncatedLanguageCode, ErrCodeInvalidEncoding:
		return true
	}
	return false
}
