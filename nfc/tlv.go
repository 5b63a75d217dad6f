package nfc

// TLV block types found in Type 2 tag memory.
const (
	TLVNull        = 0x00
	TLVLockCtrl    = 0x01
	TLVMemCtrl     = 0x02
	TLVNDEF        = 0x03
	TLVProprietary = 0xFD
	TLVTerminator  = 0xFE
)

// WrapTLV wraps an NDEF message in an NDEF Message TLV followed by a Terminator TLV.
// Lengths of 0xFF and above use the three-byte form (0xFF, high, low).
func WrapTLV(message []byte) []byte {
	length := len(message)
	out := make([]byte, 0, length+5)
	out = append(out, TLVNDEF)
	if length < 0xFF {
		out = append(out, byte(length))
	} else {
		out = append(out, 0xFF, byte(length>>8), byte(length))
	}
	out = append(out, message...)
	return append(out, TLVTerminator)
}

// FindNDEFMessage scans tag memory for the first NDEF Message TLV and returns its value.
func FindNDEFMessage(memory []byte) ([]byte, error) {
	const op = "FindNDEFMessage"

	offset := 0
	for offset < len(memory) {
		tlvType := memory[offset]

		switch tlvType {
		case TLVNull:
			offset++
			continue
		case TLVTerminator:
			return nil, &CodecError{Code: ErrCodeNoNDEFTLV, Op: op, Message: "terminator reached before NDEF TLV"}
		}

		length, valueStart, ok := tlvLength(memory, offset)
		if !ok {
			return nil, Errorf(ErrCodeTruncatedRecord, op, "truncated TLV length at offset %d", offset)
		}
		if valueStart+length > len(memory) {
			return nil, Errorf(ErrCodeTruncatedRecord, op, "TLV 0x%02X at offset %d runs past end of memory", tlvType, offset)
		}

		if tlvType == TLVNDEF {
			return memory[valueStart : valueStart+length], nil
		}
		offset = valueStart + length
	}

	return nil, &CodecError{Code: ErrCodeNoNDEFTLV, Op: op, Message: "no NDEF message TLV"}
}

// tlvLength reads the length field of the TLV starting at offset.
func tlvLength(data []byte, offset int) (length, valueStart int, ok bool) {
	if offset+1 >= len(data) {
		return 0, 0, false
	}
	if data[offset+1] != 0xFF {
		return int(data[offset+1]), offset + 2, true
	}
	if offset+3 >= len(data) {
		return 0, 0, false
	}
	return int(data[offset+2])<<8 | int(data[offset+3]), offset + 4, true
}
