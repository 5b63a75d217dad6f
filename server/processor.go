package server

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/nedpals/davi-nfc-bridge/nfc"
	"github.com/nedpals/davi-nfc-bridge/protocol"
)

// ProcessorOptions configures a TagProcessor.
type ProcessorOptions struct {
	// Recovery is consulted when a text payload fails to decode. Nil disables recovery.
	Recovery nfc.Recovery

	// NoMessageText is the event text for tags without an NDEF message.
	// Defaults to protocol.DefaultNoMessageText.
	NoMessageText string

	Logger  *zap.Logger
	Metrics *Metrics

	// Now defaults to time.Now
	Now func() time.Time
}

// TagProcessor turns discovered tags into "nfcTag" events.
type TagProcessor struct {
	recovery      nfc.Recovery
	noMessageText string
	logger        *zap.Logger
	metrics       *Metrics
	now           func() time.Time
}

// NewTagProcessor creates a processor with opts applied over the defaults.
func NewTagProcessor(opts ProcessorOptions) *TagProcessor {
	p := &TagProcessor{
		recovery:      opts.Recovery,
		noMessageText: opts.NoMessageText,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		now:           opts.Now,
	}
	if p.noMessageText == "" {
		p.noMessageText = protocol.DefaultNoMessageText
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Process builds the event for intent. It returns false when the intent's
// action is not a tag discovery, in which case no event should be emitted.
//
// Only the first NDEF message and its first record are read. Decode failures
// are reported in the event rather than returned.
func (p *TagProcessor) Process(intent protocol.TagIntent) (protocol.TagEvent, bool) {
	action := intent.Action
	if action == "" {
		action = protocol.ActionNDEFDiscovered
	}
	if !action.IsDiscovery() {
		p.logger.Debug("ignoring intent", zap.String("action", string(action)))
		p.metrics.RecordDecode(resultIgnored, "")
		return protocol.TagEvent{}, false
	}

	event := protocol.TagEvent{
		UID:       intent.UID,
		Source:    intent.Source,
		ScannedAt: p.scannedAt(intent).Format(time.RFC3339),
	}
	if uid, err := protocol.ParseUID(intent.UID); err == nil {
		event.UID = uid
	}

	message, err := firstMessage(intent)
	if err != nil {
		p.fail(&event, err)
		return event, true
	}
	if message == nil {
		event.Text = p.noMessageText
		p.metrics.RecordDecode(resultNoMessage, "")
		return event, true
	}

	payload, err := nfc.FirstTextPayload(message)
	if err != nil {
		p.fail(&event, err)
		return event, true
	}

	decoded, err := nfc.DecodeTextOr(payload, p.recovery)
	if err != nil {
		p.fail(&event, err)
		return event, true
	}

	event.Text = decoded.Text
	if decoded.Recovered {
		event.Recovered = true
		event.ErrorCode = nfc.GetErrorCode(decoded.Cause).String()
		p.logger.Warn("text record recovered",
			zap.String("uid", event.UID),
			zap.String("code", event.ErrorCode),
			zap.Error(decoded.Cause))
		p.metrics.RecordDecode(resultRecovered, event.ErrorCode)
		return event, true
	}

	event.Language = decoded.Record.LanguageCode
	event.Encoding = decoded.Record.Encoding.String()
	if event.Language != "" {
		if tag, err := decoded.Record.Language(); err == nil {
			event.Tag = tag.String()
		}
	}
	p.metrics.RecordDecode(resultDecoded, "")
	return event, true
}

func (p *TagProcessor) scannedAt(intent protocol.TagIntent) time.Time {
	if intent.ScannedAt != nil {
		return *intent.ScannedAt
	}
	return p.now()
}

func (p *TagProcessor) fail(event *protocol.TagEvent, err error) {
	msg := err.Error()
	event.Error = &msg
	event.ErrorCode = nfc.GetErrorCode(err).String()

	logMsg := "failed to read NDEF message"
	if nfc.IsDecodeError(err) {
		logMsg = "failed to decode text record"
	}
	p.logger.Warn(logMsg,
		zap.String("uid", event.UID),
		zap.String("code", event.ErrorCode),
		zap.Error(err))
	p.metrics.RecordDecode(resultFailed, event.ErrorCode)
}

// firstMessage picks the NDEF message to read: the first reported message,
// else the NDEF TLV in raw memory. A nil message with a nil error means the
// tag carries none.
func firstMessage(intent protocol.TagIntent) ([]byte, error) {
	if len(intent.Messages) > 0 {
		if len(intent.Messages[0]) == 0 {
			return nil, nil
		}
		return intent.Messages[0], nil
	}
	if len(intent.Memory) == 0 {
		return nil, nil
	}

	message, err := nfc.FindNDEFMessage(intent.Memory)
	if errors.Is(err, nfc.ErrNoNDEFTLV) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(message) == 0 {
		return nil, nil
	}
	return message, nil
}

// Recovery returns the processor's recovery policy, which may be nil.
func (p *TagProcessor) Recovery() nfc.Recovery {
	return p.recovery
}
