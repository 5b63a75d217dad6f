package nfc

import (
	"encoding/binary"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/language"
)

// Text record status byte layout (NFC Forum RTD-Text).
const (
	textEncodingFlag   = 0x80 // bit 7: 0 = UTF-8, 1 = UTF-16
	textReservedFlag   = 0x40 // bit 6: reserved, written as 0 and ignored on decode
	languageLengthMask = 0x3F // bits 0..5: language code length

	// MaxLanguageCodeLength is the largest language code the status byte can describe.
	MaxLanguageCodeLength = languageLengthMask
)

// TextEncoding selects the character encoding of a text record body.
type TextEncoding int

const (
	EncodingUTF8 TextEncoding = iota
	EncodingUTF16
)

func (e TextEncoding) String() string {
	switch e {
	case EncodingUTF8:
		return "UTF-8"
	case EncodingUTF16:
		return "UTF-16"
	default:
		return "unknown"
	}
}

// Valid reports whether e is one of the encodings a text record can carry.
func (e TextEncoding) Valid() bool {
	return e == EncodingUTF8 || e == EncodingUTF16
}

// ParseTextEncoding maps "utf8", "utf-8", "utf16" or "utf-16" (any case) to a TextEncoding.
func ParseTextEncoding(s string) (TextEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "utf8", "utf-8":
		return EncodingUTF8, nil
	case "utf16", "utf-16":
		return EncodingUTF16, nil
	}
	return 0, Errorf(ErrCodeUnsupportedEncoding, "ParseTextEncoding", "unsupported encoding %q", s)
}

// TextRecord is the decoded content of a well-known text record.
type TextRecord struct {
	LanguageCode string
	Text         string
	Encoding     TextEncoding
}

// Language parses the language code as a BCP 47 tag.
// An empty code yields language.Und.
func (r TextRecord) Language() (language.Tag, error) {
	if r.LanguageCode == "" {
		return language.Und, nil
	}
	return language.Parse(r.LanguageCode)
}

// DecodeTextRecord decodes a text record payload into its language code and text.
//
// The body is returned exactly as stored: no trimming and no normalization.
// The reserved bit 6 of the status byte is ignored.
func DecodeTextRecord(payload []byte) (TextRecord, error) {
	const op = "DecodeTextRecord"

	if len(payload) == 0 {
		return TextRecord{}, &CodecError{Code: ErrCodeEmptyPayload, Op: op, Message: "empty payload"}
	}

	status := payload[0]
	langLength := int(status & languageLengthMask)
	encoding := EncodingUTF8
	if status&textEncodingFlag != 0 {
		encoding = EncodingUTF16
	}

	textStart := 1 + langLength
	if textStart > len(payload) {
		return TextRecord{}, Errorf(ErrCodeTruncatedLanguageCode, op,
			"language code length %d exceeds payload of %d bytes", langLength, len(payload))
	}

	body := payload[textStart:]
	var text string
	switch encoding {
	case EncodingUTF16:
		decoded, err := decodeUTF16(body)
		if err != nil {
			return TextRecord{}, err
		}
		text = decoded
	default:
		if !utf8.Valid(body) {
			return TextRecord{}, Errorf(ErrCodeInvalidEncoding, op, "text body is not valid UTF-8")
		}
		text = string(body)
	}

	return TextRecord{
		LanguageCode: string(payload[1:textStart]),
		Text:         text,
		Encoding:     encoding,
	}, nil
}

// EncodeTextRecord builds a text record payload.
//
// UTF-16 bodies are written big-endian behind a FE FF byte order mark, which
// DecodeTextRecord strips again.
func EncodeTextRecord(languageCode, text string, encoding TextEncoding) ([]byte, error) {
	const op = "EncodeTextRecord"

	if len(languageCode) > MaxLanguageCodeLength {
		return nil, Errorf(ErrCodeLanguageCodeTooLong, op,
			"language code is %d bytes, limit is %d", len(languageCode), MaxLanguageCodeLength)
	}
	for i := 0; i < len(languageCode); i++ {
		if languageCode[i] >= utf8.RuneSelf {
			return nil, Errorf(ErrCodeInvalidLanguageCode, op, "language code %q is not ASCII", languageCode)
		}
	}
	if !encoding.Valid() {
		return nil, Errorf(ErrCodeUnsupportedEncoding, op, "unsupported encoding %d", int(encoding))
	}
	if !utf8.ValidString(text) {
		return nil, Errorf(ErrCodeInvalidEncoding, op, "text is not valid UTF-8")
	}

	var body []byte
	status := byte(len(languageCode))
	if encoding == EncodingUTF16 {
		status |= textEncodingFlag
		body = encodeUTF16(text)
	} else {
		body = []byte(text)
	}

	payload := make([]byte, 1+len(languageCode)+len(body))
	payload[0] = status
	copy(payload[1:], languageCode)
	copy(payload[1+len(languageCode):], body)
	return payload, nil
}

func decodeUTF16(b []byte) (string, error) {
	const op = "DecodeTextRecord"

	if len(b)%2 != 0 {
		return "", Errorf(ErrCodeInvalidEncoding, op, "invalid UTF-16 text length: %d", len(b))
	}

	var order binary.ByteOrder = binary.BigEndian
	if len(b) >= 2 {
		switch {
		case b[0] == 0xFE && b[1] == 0xFF:
			b = b[2:]
		case b[0] == 0xFF && b[1] == 0xFE:
			order = binary.LittleEndian
			b = b[2:]
		}
	}

	u16s := make([]uint16, len(b)/2)
	for i := range u16s {
		u16s[i] = order.Uint16(b[i*2 : i*2+2])
	}

	for i := 0; i < len(u16s); i++ {
		switch u := u16s[i]; {
		case u >= 0xD800 && u <= 0xDBFF:
			if i+1 >= len(u16s) || u16s[i+1] < 0xDC00 || u16s[i+1] > 0xDFFF {
				return "", Errorf(ErrCodeInvalidEncoding, op, "unpaired high surrogate 0x%04X at unit %d", u, i)
			}
			i++
		case u >= 0xDC00 && u <= 0xDFFF:
			return "", Errorf(ErrCodeInvalidEncoding, op, "unpaired low surrogate 0x%04X at unit %d", u, i)
		}
	}

	return string(utf16.Decode(u16s)), nil
}

func encodeUTF16(s string) []byte {
	if s == "" {
		return nil
	}
	u16s := utf16.Encode([]rune(s))
	b := make([]byte, 2+len(u16s)*2)
	b[0], b[1] = 0xFE, 0xFF
	for i, u := range u16s {
		binary.BigEndian.PutUint16(b[2+i*2:], u)
	}
	return b
}
