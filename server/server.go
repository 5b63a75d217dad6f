// Package server provides the HTTP and WebSocket host that turns discovered
// tags into "nfcTag" events for connected listeners.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/nedpals/davi-nfc-bridge/buildinfo"
	"github.com/nedpals/davi-nfc-bridge/protocol"
)

// DiscoveryConfig controls the mDNS advertisement.
type DiscoveryConfig struct {
	Enabled     bool
	ServiceName string
	ServiceType string
	Domain      string
}

// Config holds the server configuration
type Config struct {
	Bind            string
	Port            int
	APISecret       string // Optional secret required by /ws and the POST endpoints
	CertFile        string
	KeyFile         string
	ShutdownTimeout time.Duration
	Discovery       DiscoveryConfig

	Processor *TagProcessor
	Listeners *Listeners
	Metrics   *Metrics
	Logger    *zap.Logger
}

// TLSEnabled returns true if both certificate and key files are configured.
func (c Config) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// Server manages the HTTP and WebSocket server
type Server struct {
	config    Config
	logger    *zap.Logger
	listeners *Listeners
	processor *TagProcessor
	metrics   *Metrics
	upgrader  websocket.Upgrader

	handlerRegistry *HandlerRegistry
	conns           connSet

	lastEvent   *protocol.TagEvent
	lastEventMu sync.RWMutex

	// emitMu orders emits against listener subscription, so a new listener
	// gets each event either by replay or by notification, never both.
	emitMu sync.Mutex

	mu         sync.Mutex
	httpServer *http.Server
	mdnsServer *zeroconf.Server
	cancel     context.CancelFunc
}

// New creates a new server instance. Nil components in config are replaced
// with fresh defaults.
func New(config Config) *Server {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Listeners == nil {
		config.Listeners = NewListeners()
	}
	if config.Metrics == nil {
		config.Metrics = NewMetrics()
	}
	if config.Processor == nil {
		config.Processor = NewTagProcessor(ProcessorOptions{
			Logger:  config.Logger.Named("processor"),
			Metrics: config.Metrics,
		})
	}

	s := &Server{
		config:    config,
		logger:    config.Logger.Named("server"),
		listeners: config.Listeners,
		processor: config.Processor,
		metrics:   config.Metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		handlerRegistry: NewHandlerRegistry(),
	}

	s.registerHandlers()
	return s
}

func (s *Server) registerHandlers() {
	s.handlerRegistry.Handle(protocol.WSTypeTagDiscovered, s.handleTagDiscoveredMessage)
	s.handlerRegistry.Handle(protocol.WSTypeDecodePayload, s.handleDecodeMessage)
	s.handlerRegistry.Handle(protocol.WSTypeEncodeText, s.handleEncodeMessage)
	s.handlerRegistry.HandleWebSocket(IsDeviceConnection, s.handleDeviceWebSocket)
	if s.config.Discovery.Enabled {
		s.handlerRegistry.RegisterLifecycle(s.startMDNS)
	}
}

// Handle registers an additional WebSocket message handler.
func (s *Server) Handle(messageType string, handler HandlerFunc) error {
	return s.handlerRegistry.Handle(messageType, handler)
}

// Listeners returns the event registry the server notifies.
func (s *Server) Listeners() *Listeners {
	return s.listeners
}

// LastEvent returns the most recent tag event, or nil before the first tag.
func (s *Server) LastEvent() *protocol.TagEvent {
	s.lastEventMu.RLock()
	defer s.lastEventMu.RUnlock()
	return s.lastEvent
}

// HandleIntent processes intent and notifies "nfcTag" listeners.
// It returns false when the intent was ignored.
func (s *Server) HandleIntent(intent protocol.TagIntent) (protocol.TagEvent, bool) {
	event, ok := s.processor.Process(intent)
	if !ok {
		return event, false
	}
	s.Emit(event)
	return event, true
}

// Emit records event as the last event and delivers it to listeners.
func (s *Server) Emit(event protocol.TagEvent) {
	s.emitMu.Lock()
	s.lastEventMu.Lock()
	s.lastEvent = &event
	s.lastEventMu.Unlock()

	n := s.listeners.Notify(protocol.EventNFCTag, event)
	s.emitMu.Unlock()

	s.metrics.RecordEvent(protocol.EventNFCTag)
	s.logger.Debug("tag event emitted",
		zap.String("uid", event.UID),
		zap.Int("listeners", n),
		zap.Bool("recovered", event.Recovered))
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// API v1 routes
	apiV1 := "/api/v1"

	mux.HandleFunc(apiV1+"/health", enableCORS(s.handleHealthCheck))
	mux.HandleFunc(apiV1+"/tag", enableCORS(s.requireSecret(s.handleTagInput)))
	mux.HandleFunc(apiV1+"/decode", enableCORS(s.requireSecret(s.handleDecode)))
	mux.HandleFunc(apiV1+"/encode", enableCORS(s.requireSecret(s.handleEncode)))
	mux.Handle("/metrics", s.metrics.Handler())

	mux.HandleFunc("/ws", enableCORS(s.requireSecret(s.handleWebSocket)))

	mux.HandleFunc("/", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(buildinfo.DisplayName + " Running"))
	}))

	return mux
}

// Start serves until ctx is cancelled, Stop is called or the listener fails.
// It shuts the server down gracefully before returning.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.cancel = cancel
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.TLSEnabled() {
			s.logger.Info("starting server", zap.String("addr", ln.Addr().String()), zap.Bool("tls", true))
			err = httpServer.ServeTLS(ln, s.config.CertFile, s.config.KeyFile)
		} else {
			s.logger.Info("starting server", zap.String("addr", ln.Addr().String()))
			err = httpServer.Serve(ln)
		}
		errCh <- err
	}()

	if err := s.handlerRegistry.StartLifecycleHandlers(ctx, ln.Addr()); err != nil {
		s.logger.Warn("lifecycle handler failed to start", zap.Error(err))
	}

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("server context cancelled, initiating shutdown")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	if err := s.shutdown(); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// Stop asks a running Start or Serve to shut down.
func (s *Server) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *Server) shutdown() error {
	s.mu.Lock()
	mdnsServer, httpServer := s.mdnsServer, s.httpServer
	s.mdnsServer, s.httpServer, s.cancel = nil, nil, nil
	s.mu.Unlock()

	if mdnsServer != nil {
		mdnsServer.Shutdown()
		s.logger.Info("mDNS service stopped")
	}
	if httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	err := httpServer.Shutdown(ctx)
	s.conns.closeAll()
	if err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// startMDNS registers the bridge as an mDNS service for auto-discovery
func (s *Server) startMDNS(_ context.Context, addr net.Addr) error {
	discovery := s.config.Discovery
	serviceName := discovery.ServiceName
	if serviceName == "" {
		serviceName = MDNSServiceName
	}
	serviceType := discovery.ServiceType
	if serviceType == "" {
		serviceType = MDNSServiceType
	}
	domain := discovery.Domain
	if domain == "" {
		domain = MDNSDomain
	}

	port := s.config.Port
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	txtRecords := []string{
		"version=" + buildinfo.Version,
		"protocol=websocket",
		"path=/ws",
		"device_mode=?mode=device",
		"tls=" + strconv.FormatBool(s.config.TLSEnabled()),
	}

	server, err := zeroconf.Register(serviceName, serviceType, domain, port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mu.Lock()
	s.mdnsServer = server
	s.mu.Unlock()

	s.logger.Info("mDNS service registered",
		zap.String("name", serviceName),
		zap.String("type", serviceType),
		zap.Int("port", port))
	return nil
}

// IsDeviceConnection reports whether a /ws request comes from a sender-only device.
func IsDeviceConnection(r *http.Request) bool {
	return r.Header.Get("X-Device-Mode") == "true" || r.URL.Query().Get("mode") == "device"
}

// handleWebSocket upgrades a listener connection. Every listener receives
// "nfcTag" events, starting with the last one if any.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.handlerRegistry.TryCustomWebSocketHandler(w, r) {
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newConn(uuid.NewString(), ws, false)
	s.conns.add(conn)
	logger := s.logger.With(zap.String("conn", conn.ID), zap.String("remote", r.RemoteAddr))

	s.emitMu.Lock()
	remove := s.listeners.AddListener(protocol.EventNFCTag, func(data any) {
		err := conn.WriteJSON(protocol.WebSocketMessage{
			Type:    protocol.WSTypeNFCTag,
			Payload: data,
		})
		if err != nil {
			logger.Debug("listener write failed", zap.Error(err))
			conn.Close()
		}
	})
	if last := s.LastEvent(); last != nil {
		conn.WriteJSON(protocol.WebSocketMessage{
			Type:    protocol.WSTypeNFCTag,
			Payload: *last,
		})
	}
	s.emitMu.Unlock()

	s.metrics.SetListeners(s.listeners.Count(protocol.EventNFCTag))
	logger.Info("listener connected")

	defer func() {
		remove()
		s.conns.remove(conn)
		conn.Close()
		s.metrics.SetListeners(s.listeners.Count(protocol.EventNFCTag))
		logger.Info("listener disconnected")
	}()

	s.readLoop(r.Context(), conn, logger)
}

// handleDeviceWebSocket serves phones that only push tags.
func (s *Server) handleDeviceWebSocket(w http.ResponseWriter, r *http.Request) bool {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("device websocket upgrade failed", zap.Error(err))
		return true
	}

	conn := newConn(uuid.NewString(), ws, true)
	s.conns.add(conn)
	logger := s.logger.With(zap.String("device", conn.ID), zap.String("remote", r.RemoteAddr))
	logger.Info("device connected")
	defer func() {
		s.conns.remove(conn)
		conn.Close()
		logger.Info("device disconnected")
	}()

	s.readLoop(r.Context(), conn, logger)
	return true
}

func (s *Server) readLoop(ctx context.Context, conn *Conn, logger *zap.Logger) {
	for {
		messageType, message, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req protocol.WebSocketRequest
		if err := json.Unmarshal(message, &req); err != nil {
			conn.SendError("", protocol.ErrCodeInvalidRequest, "Invalid message format")
			continue
		}

		handler, ok := s.handlerRegistry.Get(req.Type)
		if !ok {
			conn.SendError(req.ID, protocol.ErrCodeInvalidRequest, fmt.Sprintf("Unknown message type: %s (supported: %s)",
				req.Type, strings.Join(s.handlerRegistry.MessageTypes(), ", ")))
			continue
		}

		// Handlers send their own error responses; the error is only logged
		if err := handler(ctx, conn, req); err != nil {
			logger.Debug("handler error", zap.String("type", req.Type), zap.Error(err))
		}
	}
}

// requireSecret rejects requests without the configured API secret.
func (s *Server) requireSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			s.logger.Warn("request rejected: invalid API secret",
				zap.String("path", r.URL.Path),
				zap.String("remote", r.RemoteAddr))
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error":     "Unauthorized: Invalid API secret",
				"errorCode": protocol.ErrCodeUnauthorized,
			})
			return
		}
		next(w, r)
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.config.APISecret == "" {
		return true
	}
	secret := r.URL.Query().Get("secret")
	if secret == "" {
		secret = r.Header.Get(APISecretHeader)
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(s.config.APISecret)) == 1
}

// enableCORS is a middleware that adds CORS headers to responses
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   buildinfo.FullVersion(),
		"listeners": s.listeners.Count(protocol.EventNFCTag),
		"conns":     s.conns.count(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
