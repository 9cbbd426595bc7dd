package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/jobats/internal/observability"
	"github.com/harun/jobats/internal/tracing"
	"github.com/harun/jobats/pkg/dispatcher"
	"github.com/harun/jobats/pkg/journal"
	"github.com/harun/jobats/pkg/provider"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// SecretHeader carries the shared secret on /rpc requests.
const SecretHeader = "X-Jobats-Secret"

const maxRPCBody = 1 << 20

// Dispatcher is the lane manager ai.suggest submits to.
type Dispatcher interface {
	Submit(ctx context.Context, tabID int, op dispatcher.Operation, opts ...dispatcher.SubmitOption) *dispatcher.Future
	CancelTab(tabID int) int
	Cancel(requestID string) (int, bool)
	Status() dispatcher.Status[int]
}

// Providers resolves an AI profile ID (empty for the default) to a client.
type Providers interface {
	Get(ctx context.Context, id string) (provider.LLMProvider, provider.Profile, error)
}

// History lists settled requests.
type History interface {
	Recent(ctx context.Context, f journal.Filter) ([]journal.Entry, error)
}

// RequestDefaults fill in ai.suggest params the caller leaves out.
type RequestDefaults struct {
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	// WarnAfter tells the requesting client when its call is still queued
	// after this long. Zero disables.
	WarnAfter time.Duration
}

// Config holds server configuration
type Config struct {
	Host              string
	Port              int
	SharedSecret      string
	RequestsPerMinute int
	MaxConcurrent     int
	AllowedOrigins    []string
	TickInterval      time.Duration
	Dispatcher        Dispatcher
	Providers         Providers
	History           History
	Defaults          RequestDefaults
	Logger            zerolog.Logger
}

// Server is the jobats gateway: the background message handler the browser
// extension talks to over WebSocket or single-shot HTTP JSON-RPC.
type Server struct {
	addr         string
	tickInterval time.Duration
	server       *http.Server
	listener     net.Listener
	upgrader     websocket.Upgrader
	clients      *ClientRegistry
	router       *RPCRouter
	auth         *Authenticator
	broadcaster  *EventBroadcaster
	dispatcher   Dispatcher
	providers    Providers
	history      History
	logger       zerolog.Logger

	limitsMu          sync.RWMutex
	requestsPerMinute int
	maxConcurrent     int
	defaults          RequestDefaults
	httpLimiter       *ClientRateLimiter

	baseCtx    context.Context
	baseCancel context.CancelFunc

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
	tickCancel     context.CancelFunc
	tickWG         sync.WaitGroup
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.Providers == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 30 * time.Second
	}

	logger := cfg.Logger.With().Str("component", "gateway").Logger()
	clients := NewClientRegistry()
	baseCtx, baseCancel := context.WithCancel(context.Background())

	s := &Server{
		addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		tickInterval:      cfg.TickInterval,
		clients:           clients,
		router:            NewRPCRouter(),
		auth:              NewAuthenticator(cfg.SharedSecret),
		broadcaster:       NewEventBroadcaster(clients, logger),
		dispatcher:        cfg.Dispatcher,
		providers:         cfg.Providers,
		history:           cfg.History,
		logger:            logger,
		requestsPerMinute: cfg.RequestsPerMinute,
		maxConcurrent:     cfg.MaxConcurrent,
		defaults:          cfg.Defaults,
		httpLimiter:       NewClientRateLimiterWithLimits(cfg.RequestsPerMinute, cfg.MaxConcurrent),
		baseCtx:           baseCtx,
		baseCancel:        baseCancel,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: originChecker(cfg.AllowedOrigins),
	}

	if err := s.registerBuiltinMethods(); err != nil {
		baseCancel()
		return nil, err
	}

	return s, nil
}

// originChecker allows every origin when allowed is empty.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Handler returns the HTTP routes without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	s.startTickEmitter()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the gateway. Open WebSocket connections are closed,
// which cancels the requests they were waiting on.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	if s.isShuttingDown {
		s.shutdownMu.Unlock()
		return nil
	}
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")
	s.stopTickEmitter()

	s.broadcaster.Broadcast("server.shutdown", map[string]interface{}{
		"message": "Server is shutting down",
	})

	s.baseCancel()
	for _, client := range s.clients.GetAll() {
		_ = client.Conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

func (s *Server) startTickEmitter() {
	if s.tickInterval <= 0 {
		return
	}

	tickCtx, cancel := context.WithCancel(s.baseCtx)
	s.tickCancel = cancel
	s.tickWG.Add(1)

	go func() {
		defer s.tickWG.Done()

		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				status := s.dispatcher.Status()
				s.broadcaster.Broadcast("tick", map[string]interface{}{
					"status": "alive",
					"active": status.Active,
					"queued": status.Queued,
				})
			}
		}
	}()
}

func (s *Server) stopTickEmitter() {
	if s.tickCancel != nil {
		s.tickCancel()
		s.tickCancel = nil
	}
	s.tickWG.Wait()
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

// UpdateLimits applies new rate limits to current and future clients.
func (s *Server) UpdateLimits(requestsPerMinute, maxConcurrent int) {
	s.limitsMu.Lock()
	s.requestsPerMinute = requestsPerMinute
	s.maxConcurrent = maxConcurrent
	s.limitsMu.Unlock()

	s.httpLimiter.UpdateLimits(requestsPerMinute, maxConcurrent)
	for _, client := range s.clients.GetAll() {
		client.RateLimiter.UpdateLimits(requestsPerMinute, maxConcurrent)
	}
}

// SetDefaults replaces the ai.suggest defaults.
func (s *Server) SetDefaults(d RequestDefaults) {
	s.limitsMu.Lock()
	defer s.limitsMu.Unlock()
	s.defaults = d
}

func (s *Server) requestDefaults() RequestDefaults {
	s.limitsMu.RLock()
	defer s.limitsMu.RUnlock()
	return s.defaults
}

func (s *Server) newClientLimiter() *ClientRateLimiter {
	s.limitsMu.RLock()
	defer s.limitsMu.RUnlock()
	return NewClientRateLimiterWithLimits(s.requestsPerMinute, s.maxConcurrent)
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, err := gonanoid.New()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate client ID")
		_ = conn.Close()
		return
	}

	// r.Context ends when this handler returns, so the connection gets its own.
	ctx, cancel := context.WithCancel(s.baseCtx)
	now := time.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    r.RemoteAddr,
		RateLimiter:  s.newClientLimiter(),
		ctx:          tracing.WithClientID(ctx, clientID),
		cancel:       cancel,
	}

	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	if err := s.sendAuthChallenge(client); err != nil {
		s.logger.Error().Err(err).Str("clientId", clientID).Msg("Failed to send auth challenge")
		s.dropClient(client)
		return
	}

	go s.handleClient(client)
}

func (s *Server) dropClient(client *Client) {
	if client.cancel != nil {
		client.cancel()
	}
	client.setState(StateDisconnected)
	_ = client.Conn.Close()
	s.clients.Remove(client.ID)
}

// sendAuthChallenge issues a new challenge to a client
func (s *Server) sendAuthChallenge(client *Client) error {
	challenge, err := s.auth.Challenge(client)
	if err != nil {
		return err
	}
	return client.WriteJSON(challenge)
}

// handleClient reads messages until the connection closes.
func (s *Server) handleClient(client *Client) {
	defer func() {
		s.dropClient(client)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Str("clientId", client.ID).Msg("WebSocket closed")
			}
			return
		}

		s.clients.UpdateActivity(client.ID)
		s.handleMessage(client, message)
	}
}

// handleMessage handles a single message from a client
func (s *Server) handleMessage(client *Client, message []byte) {
	var authResp AuthResponse
	if err := json.Unmarshal(message, &authResp); err == nil && authResp.Method == "auth.response" {
		s.handleAuthMessage(client, authResp)
		return
	}

	if !client.IsAuthenticated() {
		s.sendError(client, "", AuthenticationRequired, "Authentication required")
		return
	}

	req, err := s.router.ParseRequest(message)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			s.sendError(client, "", rpcErr.Code, rpcErr.Message)
		} else {
			s.sendError(client, "", ParseError, err.Error())
		}
		return
	}

	if allowed, reason := client.RateLimiter.Acquire(); !allowed {
		s.sendError(client, req.ID, limitCode(reason), reason)
		return
	}

	s.inFlightReqs.Add(1)
	go func() {
		defer s.inFlightReqs.Done()
		defer client.RateLimiter.RecordRequestEnd()

		ctx := tracing.WithTraceID(client.Context(), tracing.NewTraceID())
		response := s.router.RouteRequest(ctx, req)
		if err := client.WriteJSON(response); err != nil {
			s.logger.Debug().
				Err(err).
				Str("clientId", client.ID).
				Str("rpcId", req.ID).
				Msg("Failed to send response")
		}
	}()
}

func limitCode(reason string) int {
	if reason == reasonConcurrent {
		return TooManyConcurrent
	}
	return RateLimitExceeded
}

// handleRPC handles single-shot HTTP JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	if !s.auth.CheckSecret(r.Header.Get(SecretHeader)) {
		observability.RecordSecurityAudit(r.Context(), "rpc_auth", r.RemoteAddr, "denied", nil)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRPCBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	req, err := s.router.ParseRequest(body)
	if err != nil {
		rpcErr := &RPCError{Code: ParseError, Message: err.Error()}
		errors.As(err, &rpcErr)
		writeJSON(w, http.StatusBadRequest, errorResponse("", rpcErr))
		return
	}

	if allowed, reason := s.httpLimiter.Acquire(); !allowed {
		writeJSON(w, http.StatusTooManyRequests, errorResponse(req.ID, &RPCError{Code: limitCode(reason), Message: reason}))
		return
	}
	defer s.httpLimiter.RecordRequestEnd()

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	traceID := r.Header.Get("X-Trace-Id")
	if traceID == "" {
		traceID = tracing.NewTraceID()
	}
	ctx := tracing.WithTraceID(r.Context(), traceID)
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Str("rpcId", req.ID).
		Str("method", req.Method).
		Msg("Gateway received HTTP RPC request")

	writeJSON(w, http.StatusOK, s.router.RouteRequest(ctx, req))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleAuthMessage handles authentication messages
func (s *Server) handleAuthMessage(client *Client, authResp AuthResponse) {
	result := s.auth.Respond(client, authResp.Signature)

	if err := client.WriteJSON(result); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send auth result")
		return
	}

	if result.Success {
		observability.RecordSecurityAudit(client.Context(), "ws_auth", client.ID, "success", nil)
		s.logger.Info().Str("clientId", client.ID).Msg("Client authenticated")
		return
	}

	observability.RecordSecurityAudit(client.Context(), "ws_auth", client.ID, "denied", map[string]interface{}{
		"attempts": client.AuthAttempts,
		"ip":       client.IPAddress,
	})
	s.logger.Warn().
		Str("clientId", client.ID).
		Str("reason", result.Message).
		Msg("Authentication failed")

	if client.AuthAttempts >= MaxAuthAttempts {
		_ = client.Conn.Close()
		return
	}
	if !client.IsAuthenticated() && client.Challenge == "" {
		if err := s.sendAuthChallenge(client); err != nil {
			s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to reissue auth challenge")
		}
	}
}

// sendError sends an error response to a client
func (s *Server) sendError(client *Client, requestID string, code int, message string) {
	if err := client.WriteJSON(errorResponse(requestID, &RPCError{Code: code, Message: message})); err != nil {
		s.logger.Debug().
			Err(err).
			Str("clientId", client.ID).
			Msg("Failed to send error response")
	}
}

// Broadcast broadcasts an event to all authenticated clients
func (s *Server) Broadcast(event string, data interface{}) {
	s.broadcaster.Broadcast(event, data)
}

// RegisterMethod registers an RPC method handler
func (s *Server) RegisterMethod(name string, handler RequestHandler) error {
	return s.router.RegisterMethod(name, handler)
}

// Methods lists the registered RPC methods.
func (s *Server) Methods() []string {
	return s.router.GetMethods()
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}
