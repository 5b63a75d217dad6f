package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nedpals/davi-nfc-bridge/nfc"
	"github.com/nedpals/davi-nfc-bridge/protocol"
)

// handleDecode handles POST /api/v1/decode.
func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req protocol.DecodeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.DecodeResponse{
			Error:     "Failed to parse request body: " + err.Error(),
			ErrorCode: protocol.ErrCodeInvalidRequest,
		})
		return
	}

	resp, status := s.decode(req)
	writeJSON(w, status, resp)
}

// handleEncode handles POST /api/v1/encode.
func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req protocol.EncodeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.EncodeResponse{
			Error:     "Failed to parse request body: " + err.Error(),
			ErrorCode: protocol.ErrCodeInvalidRequest,
		})
		return
	}

	resp, status := encode(req)
	writeJSON(w, status, resp)
}

// decode runs a DecodeRequest. Codec failures carry the codec error kind
// (e.g. "truncated_language_code") as ErrorCode.
func (s *Server) decode(req protocol.DecodeRequest) (protocol.DecodeResponse, int) {
	recovery, err := s.recoveryFor(req.Fallback)
	if err != nil {
		return protocol.DecodeResponse{Error: err.Error(), ErrorCode: protocol.ErrCodeInvalidRequest}, http.StatusBadRequest
	}

	payload, err := requestPayload(req)
	if err != nil {
		if nfc.GetErrorCode(err) == 0 {
			return protocol.DecodeResponse{Error: err.Error(), ErrorCode: protocol.ErrCodeInvalidRequest}, http.StatusBadRequest
		}
		return decodeFailure(err), http.StatusUnprocessableEntity
	}

	decoded, err := nfc.DecodeTextOr(payload, recovery)
	if err != nil {
		return decodeFailure(err), http.StatusUnprocessableEntity
	}

	resp := protocol.DecodeResponse{
		Success:   true,
		Text:      decoded.Text,
		Recovered: decoded.Recovered,
	}
	if decoded.Recovered {
		resp.ErrorCode = nfc.GetErrorCode(decoded.Cause).String()
	} else {
		resp.Language = decoded.Record.LanguageCode
		resp.Encoding = decoded.Record.Encoding.String()
	}
	return resp, http.StatusOK
}

func decodeFailure(err error) protocol.DecodeResponse {
	return protocol.DecodeResponse{
		Error:     err.Error(),
		ErrorCode: nfc.GetErrorCode(err).String(),
	}
}

// recoveryFor maps a request's fallback name to a policy; empty means the
// processor's configured policy.
func (s *Server) recoveryFor(fallback string) (nfc.Recovery, error) {
	switch strings.ToLower(fallback) {
	case "":
		return s.processor.Recovery(), nil
	case "none":
		return nil, nil
	case "base64":
		return nfc.Base64Recovery, nil
	}
	return nil, fmt.Errorf("unknown fallback %q", fallback)
}

// requestPayload resolves the text payload from whichever input form was sent.
// No input at all yields an empty payload.
func requestPayload(req protocol.DecodeRequest) ([]byte, error) {
	set := 0
	for _, b := range [][]byte{req.Payload, req.Message, req.Memory} {
		if b != nil {
			set++
		}
	}
	if set > 1 {
		return nil, fmt.Errorf("only one of payload, message or memory may be set")
	}

	switch {
	case req.Message != nil:
		return nfc.FirstTextPayload(req.Message)
	case req.Memory != nil:
		message, err := nfc.FindNDEFMessage(req.Memory)
		if err != nil {
			return nil, err
		}
		return nfc.FirstTextPayload(message)
	}
	return req.Payload, nil
}

// encode runs an EncodeRequest. Encoding defaults to UTF-8.
func encode(req protocol.EncodeRequest) (protocol.EncodeResponse, int) {
	encoding := nfc.EncodingUTF8
	if req.Encoding != "" {
		var err error
		if encoding, err = nfc.ParseTextEncoding(req.Encoding); err != nil {
			return protocol.EncodeResponse{Error: err.Error(), ErrorCode: nfc.GetErrorCode(err).String()}, http.StatusUnprocessableEntity
		}
	}

	record, err := nfc.NewTextRecord(req.Language, req.Text, encoding)
	if err != nil {
		return protocol.EncodeResponse{Error: err.Error(), ErrorCode: nfc.GetErrorCode(err).String()}, http.StatusUnprocessableEntity
	}

	return protocol.EncodeResponse{
		Success: true,
		Payload: record.Payload,
		Message: record.MarshalMessage(),
	}, http.StatusOK
}

// decodePayload converts a request's loosely typed payload into v.
func decodePayload(payload map[string]any, v any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func (s *Server) handleTagDiscoveredMessage(ctx context.Context, conn *Conn, req protocol.WebSocketRequest) error {
	var intent protocol.TagIntent
	if err := decodePayload(req.Payload, &intent); err != nil {
		conn.SendError(req.ID, protocol.ErrCodeInvalidIntent, "Invalid tag payload: "+err.Error())
		return err
	}
	if intent.Source == "" {
		intent.Source = "websocket"
		if conn.Device {
			intent.Source = "device"
		}
	}

	event, code, err := s.acceptIntent(intent)
	if err != nil {
		conn.SendError(req.ID, code, err.Error())
		return err
	}
	return conn.SendResponse(req.ID, protocol.WSTypeTagDiscovered, event)
}

func (s *Server) handleDecodeMessage(ctx context.Context, conn *Conn, req protocol.WebSocketRequest) error {
	var decodeReq protocol.DecodeRequest
	if err := decodePayload(req.Payload, &decodeReq); err != nil {
		conn.SendError(req.ID, protocol.ErrCodeInvalidRequest, "Invalid decode payload: "+err.Error())
		return err
	}

	resp, _ := s.decode(decodeReq)
	return conn.WriteJSON(protocol.WebSocketResponse{
		ID:      req.ID,
		Type:    protocol.WSTypeDecodePayload,
		Success: resp.Success,
		Payload: resp,
		Error:   resp.Error,
	})
}

func (s *Server) handleEncodeMessage(ctx context.Context, conn *Conn, req protocol.WebSocketRequest) error {
	var encodeReq protocol.EncodeRequest
	if err := decodePayload(req.Payload, &encodeReq); err != nil {
		conn.SendError(req.ID, protocol.ErrCodeInvalidRequest, "Invalid encode payload: "+err.Error())
		return err
	}

	resp, _ := encode(encodeReq)
	return conn.WriteJSON(protocol.WebSocketResponse{
		ID:      req.ID,
		Type:    protocol.WSTypeEncodeText,
		Success: resp.Success,
		Payload: resp,
		Error:   resp.Error,
	})
}
