package nfc

import (
	"encoding/base64"
	"slices"
)

// Recovery turns a failed decode into presentable text.
// It returns false to decline, in which case the decode error stands.
type Recovery func(payload []byte, err error) (string, bool)

// Base64Recovery presents the raw payload as standard, unwrapped base64.
func Base64Recovery(payload []byte, err error) (string, bool) {
	return base64.StdEncoding.EncodeToString(payload), true
}

// RecoverOn restricts r to errors carrying one of codes.
func RecoverOn(r Recovery, codes ...ErrorCode) Recovery {
	return func(payload []byte, err error) (string, bool) {
		if r == nil || !slices.Contains(codes, GetErrorCode(err)) {
			return "", false
		}
		return r(payload, err)
	}
}

// Decoded is the outcome of DecodeTextOr.
type Decoded struct {
	Record    TextRecord
	Text      string // Record.Text, or the recovered text
	Recovered bool
	Cause     error // decode failure; kept when Recovered so it can still be reported
}

// DecodeTextOr decodes payload and consults r when decoding fails.
// The error is non-nil only when decoding failed and r declined.
func DecodeTextOr(payload []byte, r Recovery) (Decoded, error) {
	record, err := DecodeTextRecord(payload)
	if err == nil {
		return Decoded{Record: record, Text: record.Text}, nil
	}
	if r != nil {
		if text, ok := r(payload, err); ok {
			return Decoded{Text: text, Recovered: true, Cause: err}, nil
		}
	}
	return Decoded{Cause: err}, err
}
