package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nedpals/davi-nfc-bridge/nfc"
	"github.com/nedpals/davi-nfc-bridge/protocol"
)

func newTestServer(t *testing.T, config Config) (*Server, *httptest.Server) {
	t.Helper()
	s := New(config)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func dialWS(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(v))
}

func waitForListeners(t *testing.T, s *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Listeners().Count(protocol.EventNFCTag) == n
	}, 2*time.Second, 10*time.Millisecond)
}

type nfcTagMessage struct {
	Type    string            `json:"type"`
	Payload protocol.TagEvent `json:"payload"`
}

func TestHealthCheck(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestCORSPreflight(t *testing.T) {
	_, ts := newTestServer(t, Config{APISecret: "s3cret"})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/tag", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), APISecretHeader)
}

func TestTagInput_NotifiesListeners(t *testing.T) {
	s, ts := newTestServer(t, Config{})

	var mu sync.Mutex
	var received []protocol.TagEvent
	remove := s.Listeners().AddListener(protocol.EventNFCTag, func(data any) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, data.(protocol.TagEvent))
	})
	defer remove()

	record, err := nfc.NewTextRecord("en", "Hi", nfc.EncodingUTF8)
	require.NoError(t, err)

	resp := postJSON(t, ts.URL+"/api/v1/tag", protocol.TagIntent{
		UID:      "04 ab cd ef",
		Messages: [][]byte{record.MarshalMessage()},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body protocol.TagInputResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	require.NotNil(t, body.Event)
	assert.Equal(t, "Hi", body.Event.Text)
	assert.Equal(t, "04:AB:CD:EF", body.Event.UID)
	assert.Equal(t, defaultTagSource, body.Event.Source)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "Hi", received[0].Text)
	assert.Equal(t, *body.Event, *s.LastEvent())
}

func TestTagInput_Errors(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed json", `{"uid":`, http.StatusBadRequest, protocol.ErrCodeInvalidRequest},
		{"bad uid", `{"uid":"xyz"}`, http.StatusBadRequest, protocol.ErrCodeInvalidUID},
		{"ignored action", `{"action":"android.intent.action.VIEW"}`, http.StatusUnprocessableEntity, protocol.ErrCodeIgnoredAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/v1/tag", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			var body protocol.TagInputResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.code, body.ErrorCode)
		})
	}
}

func TestTagInput_MethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/api/v1/tag")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAPISecret(t *testing.T) {
	_, ts := newTestServer(t, Config{APISecret: "s3cret"})

	resp := postJSON(t, ts.URL+"/api/v1/encode", protocol.EncodeRequest{Language: "en", Text: "x"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/v1/encode?secret=s3cret", protocol.EncodeRequest{Language: "en", Text: "x"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/encode", strings.NewReader(`{"language":"en","text":"x"}`))
	require.NoError(t, err)
	req.Header.Set(APISecretHeader, "s3cret")
	headerResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer headerResp.Body.Close()
	assert.Equal(t, http.StatusOK, headerResp.StatusCode)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, wsResp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, wsResp)
	assert.Equal(t, http.StatusUnauthorized, wsResp.StatusCode)

	// Health stays open
	health, err := http.Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestDecodeEndpoint(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	message := rawTextMessage([]byte{0x02, 'e', 'n', 'H', 'i'})
	tests := []struct {
		name   string
		req    protocol.DecodeRequest
		status int
		want   protocol.DecodeResponse
	}{
		{
			name:   "payload",
			req:    protocol.DecodeRequest{Payload: []byte{0x02, 0x65, 0x6E, 0x48, 0x69}},
			status: http.StatusOK,
			want:   protocol.DecodeResponse{Success: true, Language: "en", Text: "Hi", Encoding: "UTF-8"},
		},
		{
			name:   "message",
			req:    protocol.DecodeRequest{Message: message},
			status: http.StatusOK,
			want:   protocol.DecodeResponse{Success: true, Language: "en", Text: "Hi", Encoding: "UTF-8"},
		},
		{
			name:   "memory",
			req:    protocol.DecodeRequest{Memory: nfc.WrapTLV(message)},
			status: http.StatusOK,
			want:   protocol.DecodeResponse{Success: true, Language: "en", Text: "Hi", Encoding: "UTF-8"},
		},
		{
			name:   "base64 fallback",
			req:    protocol.DecodeRequest{Payload: []byte{0x02, 0x65}, Fallback: "base64"},
			status: http.StatusOK,
			want:   protocol.DecodeResponse{Success: true, Text: "AmU=", Recovered: true, ErrorCode: "truncated_language_code"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/v1/decode", tt.req)
			assert.Equal(t, tt.status, resp.StatusCode)

			var got protocol.DecodeResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeEndpoint_Errors(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	tests := []struct {
		name   string
		req    protocol.DecodeRequest
		status int
		code   string
	}{
		{"empty payload", protocol.DecodeRequest{Payload: []byte{}}, http.StatusUnprocessableEntity, "empty_payload"},
		{"truncated", protocol.DecodeRequest{Payload: []byte{0x02, 0x65}, Fallback: "none"}, http.StatusUnprocessableEntity, "truncated_language_code"},
		{"no tlv", protocol.DecodeRequest{Memory: []byte{0xFE}}, http.StatusUnprocessableEntity, "no_ndef_tlv"},
		{"two inputs", protocol.DecodeRequest{Payload: []byte{0x00}, Message: []byte{0xD1}}, http.StatusBadRequest, protocol.ErrCodeInvalidRequest},
		{"unknown fallback", protocol.DecodeRequest{Payload: []byte{0x00}, Fallback: "hex"}, http.StatusBadRequest, protocol.ErrCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/v1/decode", tt.req)
			assert.Equal(t, tt.status, resp.StatusCode)

			var got protocol.DecodeResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
			assert.False(t, got.Success)
			assert.Equal(t, tt.code, got.ErrorCode)
		})
	}
}

func TestDecodeEndpoint_ServerFallbackPolicy(t *testing.T) {
	processor := NewTagProcessor(ProcessorOptions{
		Recovery: nfc.RecoverOn(nfc.Base64Recovery, nfc.ErrCodeInvalidEncoding),
	})
	_, ts := newTestServer(t, Config{Processor: processor})

	resp := postJSON(t, ts.URL+"/api/v1/decode", protocol.DecodeRequest{Payload: []byte{0x82, 'e', 'n', 0x00}})
	var recovered protocol.DecodeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&recovered))
	assert.True(t, recovered.Recovered)
	assert.Equal(t, "gmVuAA==", recovered.Text)

	resp = postJSON(t, ts.URL+"/api/v1/decode", protocol.DecodeRequest{Payload: []byte{0x02, 0x65}})
	var failed protocol.DecodeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&failed))
	assert.False(t, failed.Success)
	assert.Equal(t, "truncated_language_code", failed.ErrorCode)
}

func TestEncodeEndpoint(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp := postJSON(t, ts.URL+"/api/v1/encode", protocol.EncodeRequest{Language: "en", Text: "Hi", Encoding: "utf-16"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got protocol.EncodeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.Success)
	assert.Equal(t, []byte{0x82, 'e', 'n', 0xFE, 0xFF, 0x00, 'H', 0x00, 'i'}, got.Payload)

	payload, err := nfc.FirstTextPayload(got.Message)
	require.NoError(t, err)
	assert.Equal(t, got.Payload, payload)

	resp = postJSON(t, ts.URL+"/api/v1/encode", protocol.EncodeRequest{Language: strings.Repeat("x", 64), Text: "Hi"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var tooLong protocol.EncodeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tooLong))
	assert.Equal(t, "language_code_too_long", tooLong.ErrorCode)

	resp = postJSON(t, ts.URL+"/api/v1/encode", protocol.EncodeRequest{Language: "en", Text: "Hi", Encoding: "latin1"})
	var unsupported protocol.EncodeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&unsupported))
	assert.Equal(t, "unsupported_encoding", unsupported.ErrorCode)
}

func TestWebSocket_ListenerReceivesEvents(t *testing.T) {
	s, ts := newTestServer(t, Config{})
	conn := dialWS(t, ts, "")
	waitForListeners(t, s, 1)

	s.HandleIntent(protocol.TagIntent{
		UID:      "04AB",
		Messages: [][]byte{rawTextMessage([]byte{0x02, 'e', 'n', 'H', 'i'})},
	})

	var msg nfcTagMessage
	readMessage(t, conn, &msg)
	assert.Equal(t, protocol.WSTypeNFCTag, msg.Type)
	assert.Equal(t, "Hi", msg.Payload.Text)
	assert.Equal(t, "04:AB", msg.Payload.UID)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(s.metrics.listeners) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestWebSocket_ReplaysLastEvent(t *testing.T) {
	s, ts := newTestServer(t, Config{})
	s.Emit(protocol.TagEvent{Text: "earlier"})

	conn := dialWS(t, ts, "")

	var msg nfcTagMessage
	readMessage(t, conn, &msg)
	assert.Equal(t, "earlier", msg.Payload.Text)
}

func TestWebSocket_ConnectDuringEmitDeliversOnce(t *testing.T) {
	s, ts := newTestServer(t, Config{})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	stop := make(chan struct{})
	emitted := make(chan struct{})
	go func() {
		defer close(emitted)
		for seq := 1; ; seq++ {
			select {
			case <-stop:
				return
			default:
			}
			s.Emit(protocol.TagEvent{Text: strconv.Itoa(seq)})
		}
	}()

	const clients, perClient = 50, 5
	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- readSequence(url, perClient)
		}()
	}
	wg.Wait()
	close(stop)
	<-emitted

	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

// readSequence reads n events and checks their sequence numbers strictly increase.
func readSequence(url string, n int) error {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	last := 0
	for i := 0; i < n; i++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg nfcTagMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		seq, err := strconv.Atoi(msg.Payload.Text)
		if err != nil {
			return err
		}
		if seq <= last {
			return fmt.Errorf("event %d delivered after %d", seq, last)
		}
		last = seq
	}
	return nil
}

func TestWebSocket_ListenerRemovedOnDisconnect(t *testing.T) {
	s, ts := newTestServer(t, Config{})
	conn := dialWS(t, ts, "")
	waitForListeners(t, s, 1)

	conn.Close()
	waitForListeners(t, s, 0)
}

func TestWebSocket_DeviceSendsTags(t *testing.T) {
	s, ts := newTestServer(t, Config{})
	listener := dialWS(t, ts, "")
	waitForListeners(t, s, 1)

	device := dialWS(t, ts, "?mode=device")
	require.NoError(t, device.WriteJSON(protocol.WebSocketRequest{
		ID:   "req-1",
		Type: protocol.WSTypeTagDiscovered,
		Payload: map[string]any{
			"uid":      "04:11:22:33",
			"messages": [][]byte{rawTextMessage([]byte{0x02, 'e', 'n', 'H', 'i'})},
		},
	}))

	var reply protocol.WebSocketResponse
	readMessage(t, device, &reply)
	assert.Equal(t, "req-1", reply.ID)
	assert.True(t, reply.Success)

	var msg nfcTagMessage
	readMessage(t, listener, &msg)
	assert.Equal(t, "Hi", msg.Payload.Text)
	assert.Equal(t, "device", msg.Payload.Source)

	// Devices are not listeners
	assert.Equal(t, 1, s.Listeners().Count(protocol.EventNFCTag))
}

func TestWebSocket_DecodeAndEncodeRequests(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	conn := dialWS(t, ts, "")

	require.NoError(t, conn.WriteJSON(protocol.WebSocketRequest{
		ID:      "enc",
		Type:    protocol.WSTypeEncodeText,
		Payload: map[string]any{"language": "en", "text": "Hi"},
	}))
	var encoded struct {
		ID      string                  `json:"id"`
		Success bool                    `json:"success"`
		Payload protocol.EncodeResponse `json:"payload"`
	}
	readMessage(t, conn, &encoded)
	require.True(t, encoded.Success)
	assert.Equal(t, []byte{0x02, 'e', 'n', 'H', 'i'}, encoded.Payload.Payload)

	require.NoError(t, conn.WriteJSON(protocol.WebSocketRequest{
		ID:      "dec",
		Type:    protocol.WSTypeDecodePayload,
		Payload: map[string]any{"payload": encoded.Payload.Payload},
	}))
	var decoded struct {
		ID      string                  `json:"id"`
		Success bool                    `json:"success"`
		Payload protocol.DecodeResponse `json:"payload"`
	}
	readMessage(t, conn, &decoded)
	assert.Equal(t, "dec", decoded.ID)
	assert.True(t, decoded.Success)
	assert.Equal(t, "Hi", decoded.Payload.Text)
}

func TestWebSocket_UnknownMessageType(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	conn := dialWS(t, ts, "")

	require.NoError(t, conn.WriteJSON(protocol.WebSocketRequest{ID: "x", Type: "writeRequest"}))

	var reply protocol.WebSocketResponse
	readMessage(t, conn, &reply)
	assert.Equal(t, protocol.WSTypeError, reply.Type)
	assert.False(t, reply.Success)
	assert.Contains(t, reply.Error, "writeRequest")
	assert.Contains(t, reply.Error, "decodePayload, encodeText, tagDiscovered")
}

func TestNew_RegistersDiscoveryLifecycle(t *testing.T) {
	disabled := New(Config{})
	assert.Empty(t, disabled.handlerRegistry.lifecycleStarters)

	enabled := New(Config{Discovery: DiscoveryConfig{Enabled: true}})
	assert.Len(t, enabled.handlerRegistry.lifecycleStarters, 1)
}

func TestMetricsEndpoint(t *testing.T) {
	s, ts := newTestServer(t, Config{})
	s.HandleIntent(protocol.TagIntent{})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `nfc_bridge_decodes_total{code="",result="no_message"} 1`)
	assert.Contains(t, string(body), `nfc_bridge_events_total{event="nfcTag"} 1`)
}

func TestServe_StopShutsDown(t *testing.T) {
	s := New(Config{ShutdownTimeout: time.Second})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background(), ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/v1/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	s.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServe_ContextCancel(t *testing.T) {
	s := New(Config{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
