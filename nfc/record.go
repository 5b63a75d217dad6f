package nfc

import "encoding/binary"

// Type Name Format values and record header flags.
const (
	TNFEmpty     byte = 0x00
	TNFWellKnown byte = 0x01
	TNFMedia     byte = 0x02
	TNFAbsURI    byte = 0x03
	TNFExternal  byte = 0x04

	flagMB  byte = 0x80 // Message Begin
	flagME  byte = 0x40 // Message End
	flagCF  byte = 0x20 // Chunk Flag
	flagSR  byte = 0x10 // Short Record
	flagIL  byte = 0x08 // ID Length present
	tnfMask byte = 0x07

	shortRecordMaxLen = 0xFF
)

// Record is a single NDEF record. Only the first record of a message is ever parsed.
type Record struct {
	TNF     byte
	Type    []byte
	ID      []byte
	Payload []byte
	Chunked bool
}

// IsText reports whether r is a well-known text record (TNF 0x01, type "T").
func (r Record) IsText() bool {
	return r.TNF == TNFWellKnown && len(r.Type) == 1 && r.Type[0] == 'T'
}

// NewTextRecord wraps an encoded text payload in a well-known "T" record.
func NewTextRecord(languageCode, text string, encoding TextEncoding) (Record, error) {
	payload, err := EncodeTextRecord(languageCode, text, encoding)
	if err != nil {
		return Record{}, err
	}
	return Record{
		TNF:     TNFWellKnown,
		Type:    []byte("T"),
		Payload: payload,
	}, nil
}

// MarshalMessage encodes r as a complete single-record NDEF message (MB and ME set).
func (r Record) MarshalMessage() []byte {
	payloadLen := len(r.Payload)
	isShortRecord := payloadLen <= shortRecordMaxLen
	hasID := len(r.ID) > 0

	header := r.TNF&tnfMask | flagMB | flagME
	if isShortRecord {
		header |= flagSR
	}
	if hasID {
		header |= flagIL
	}

	out := make([]byte, 0, 7+len(r.Type)+len(r.ID)+payloadLen)
	out = append(out, header, byte(len(r.Type)))
	if isShortRecord {
		out = append(out, byte(payloadLen))
	} else {
		out = binary.BigEndian.AppendUint32(out, uint32(payloadLen))
	}
	if hasID {
		out = append(out, byte(len(r.ID)))
	}
	out = append(out, r.Type...)
	out = append(out, r.ID...)
	out = append(out, r.Payload...)
	return out
}

// ParseFirstRecord parses the first record of an NDEF message.
// Records after the first are not inspected.
func ParseFirstRecord(message []byte) (Record, error) {
	const op = "ParseFirstRecord"

	if len(message) == 0 {
		return Record{}, &CodecError{Code: ErrCodeNoMessage, Op: op, Message: "empty NDEF message"}
	}

	header := message[0]
	pos := 1

	if pos+1 > len(message) {
		return Record{}, Errorf(ErrCodeTruncatedRecord, op, "truncated type length at offset %d", pos)
	}
	typeLength := int(message[pos])
	pos++

	var payloadLength int
	if header&flagSR != 0 {
		if pos+1 > len(message) {
			return Record{}, Errorf(ErrCodeTruncatedRecord, op, "truncated short record payload length at offset %d", pos)
		}
		payloadLength = int(message[pos])
		pos++
	} else {
		if pos+4 > len(message) {
			return Record{}, Errorf(ErrCodeTruncatedRecord, op, "truncated payload length at offset %d", pos)
		}
		length := binary.BigEndian.Uint32(message[pos : pos+4])
		if uint64(length) > uint64(len(message)) {
			return Record{}, Errorf(ErrCodeTruncatedRecord, op, "payload length %d exceeds message of %d bytes", length, len(message))
		}
		payloadLength = int(length)
		pos += 4
	}

	var idLength int
	if header&flagIL != 0 {
		if pos+1 > len(message) {
			return Record{}, Errorf(ErrCodeTruncatedRecord, op, "truncated ID length at offset %d", pos)
		}
		idLength = int(message[pos])
		pos++
	}

	if pos+typeLength > len(message) {
		return Record{}, Errorf(ErrCodeTruncatedRecord, op, "truncated type field at offset %d", pos)
	}
	recordType := message[pos : pos+typeLength]
	pos += typeLength

	if pos+idLength > len(message) {
		return Record{}, Errorf(ErrCodeTruncatedRecord, op, "truncated ID field at offset %d", pos)
	}
	var recordID []byte
	if idLength > 0 {
		recordID = message[pos : pos+idLength]
	}
	pos += idLength

	if pos+payloadLength > len(message) {
		return Record{}, Errorf(ErrCodeTruncatedRecord, op, "truncated payload at offset %d", pos)
	}

	return Record{
		TNF:     header & tnfMask,
		Type:    recordType,
		ID:      recordID,
		Payload: message[pos : pos+payloadLength],
		Chunked: header&flagCF != 0,
	}, nil
}

// FirstTextPayload returns the payload of the first record of message,
// which must be a complete well-known text record. Chunked payloads are
// rejected since only the first chunk would be read.
func FirstTextPayload(message []byte) ([]byte, error) {
	record, err := ParseFirstRecord(message)
	if err != nil {
		return nil, err
	}
	if !record.IsText() {
		return nil, Errorf(ErrCodeNotTextRecord, "FirstTextPayload",
			"first record has TNF 0x%02X type %q", record.TNF, record.Type)
	}
	if record.Chunked {
		return nil, Errorf(ErrCodeChunkedRecord, "FirstTextPayload",
			"first record is the first of a chunked payload (%d bytes)", len(record.Payload))
	}
	return record.Payload, nil
}
