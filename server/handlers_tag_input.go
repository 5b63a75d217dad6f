package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/nedpals/davi-nfc-bridge/protocol"
)

const defaultTagSource = "http-api"

// handleTagInput handles POST /api/v1/tag requests for injecting discovered tags.
func (s *Server) handleTagInput(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var intent protocol.TagIntent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&intent); err != nil {
		s.sendTagInputError(w, http.StatusBadRequest, protocol.ErrCodeInvalidRequest,
			"Failed to parse request body: "+err.Error())
		return
	}
	if intent.Source == "" {
		intent.Source = defaultTagSource
	}

	event, code, err := s.acceptIntent(intent)
	if err != nil {
		status := http.StatusBadRequest
		if code == protocol.ErrCodeIgnoredAction {
			status = http.StatusUnprocessableEntity
		}
		s.sendTagInputError(w, status, code, err.Error())
		return
	}

	s.logger.Info("tag input received",
		zap.String("uid", event.UID),
		zap.String("source", event.Source),
		zap.Bool("failed", event.Error != nil))

	writeJSON(w, http.StatusOK, protocol.TagInputResponse{
		Success: true,
		Message: "Tag event delivered to listeners",
		Event:   &event,
	})
}

// acceptIntent validates intent and hands it to HandleIntent. On failure it
// returns a protocol error code with the error.
func (s *Server) acceptIntent(intent protocol.TagIntent) (protocol.TagEvent, string, error) {
	if intent.UID != "" {
		uid, err := protocol.ParseUID(intent.UID)
		if err != nil {
			return protocol.TagEvent{}, protocol.ErrCodeInvalidUID, err
		}
		intent.UID = uid
	}

	event, ok := s.HandleIntent(intent)
	if !ok {
		return protocol.TagEvent{}, protocol.ErrCodeIgnoredAction,
			&ignoredActionError{action: intent.Action}
	}
	return event, "", nil
}

type ignoredActionError struct {
	action protocol.TagAction
}

func (e *ignoredActionError) Error() string {
	return "ignored intent action: " + string(e.action)
}

// sendTagInputError sends an error response for tag input endpoint.
func (s *Server) sendTagInputError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSON(w, statusCode, protocol.TagInputResponse{
		Success:   false,
		Error:     message,
		ErrorCode: errorCode,
	})
}
