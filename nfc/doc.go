// Package nfc decodes and encodes NDEF well-known text records.
//
// DecodeTextRecord and EncodeTextRecord are pure and safe for concurrent use.
// Failures are reported as *CodecError values whose Code tells them apart;
// nothing in this package falls back on its own. Callers that want the raw
// payload shown when decoding fails compose DecodeTextOr with a Recovery such
// as Base64Recovery.
//
// The record and TLV helpers only go as far as locating the first record of
// the first NDEF message, which is all a text bridge needs.
package nfc
