package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// RPCRequest represents a JSON-RPC 2.0 request
type RPCRequest struct {
	ID             string                 `json:"id"`
	Method         string                 `json:"method"`
	Params         map[string]interface{} `json:"params,omitempty"`
	JSONRPC        string                 `json:"jsonrpc"`
	IdempotencyKey string                 `json:"idempotencyKey,omitempty"`
}

// RPCResponse represents a JSON-RPC 2.0 response
type RPCResponse struct {
	ID      string      `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	JSONRPC string      `json:"jsonrpc"`
}

// RPCError represents a JSON-RPC 2.0 error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface
func (e *RPCError) Error() string {
	return e.Message
}

// EventMessage represents a server-initiated event
type EventMessage struct {
	Type      string      `json:"type,omitempty"`
	Event     string      `json:"event"`
	Seq       int64       `json:"seq,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
	TabID     int         `json:"tabId,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
}

// AuthChallenge represents an authentication challenge message
type AuthChallenge struct {
	Event     string `json:"event"`
	Challenge string `json:"challenge"`
}

// AuthResponse represents a client's authentication response
type AuthResponse struct {
	Method    string `json:"method"`
	Signature string `json:"signature"`
}

// AuthResult represents the result of authentication
type AuthResult struct {
	Event   string `json:"event"`
	Success bool   `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
}

// ClientInfo represents information about a connected client
type ClientInfo struct {
	ID            string    `json:"id"`
	Authenticated bool      `json:"authenticated"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastActivity  time.Time `json:"lastActivity"`
	IPAddress     string    `json:"ipAddress"`
	Idle          bool      `json:"idle"`
	// Tabs whose request events the client receives.
	Tabs     []int `json:"tabs"`
	WatchAll bool  `json:"watchAll,omitempty"`
	// Requests started in the last minute and those still in flight.
	RecentRequests int `json:"recentRequests"`
	InFlight       int `json:"inFlight"`
}

// ClientState represents the state of a client connection
type ClientState int

const (
	StateConnecting ClientState = iota
	StateAuthenticating
	StateAuthenticated
	StateDisconnected
)

// RequestHandler handles one RPC call. ctx is cancelled when the caller
// goes away (WebSocket closed or HTTP request aborted).
type RequestHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// RPC error codes
const (
	ParseError             = -32700
	InvalidRequest         = -32600
	MethodNotFound         = -32601
	InvalidParams          = -32602
	InternalError          = -32603
	AuthenticationRequired = -32001
	RateLimitExceeded      = -32005
	TooManyConcurrent      = -32006

	// Request outcomes surfaced from the dispatcher.
	RequestAborted   = -32010
	RequestCancelled = -32011
	ProviderFailure  = -32012
	Unavailable      = -32013
)

// Client represents a connected WebSocket client. Challenge, ChallengedAt and
// AuthAttempts belong to the connection's read loop; the authentication flag
// and state are read by broadcasters too.
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Challenge    string
	ChallengedAt time.Time
	ConnectedAt  time.Time
	LastActivity time.Time
	IPAddress    string
	AuthAttempts int
	RateLimiter  *ClientRateLimiter

	authenticated atomic.Bool
	state         atomic.Int32

	// ctx is cancelled when the connection closes.
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
}

// WriteTimeout bounds a single frame write. A client that cannot take a frame
// in time is treated as gone.
const WriteTimeout = 5 * time.Second

// WriteJSON serialises concurrent writers; gorilla connections allow one.
func (c *Client) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	return c.Conn.WriteJSON(v)
}

// WriteMessage writes a raw frame under the client's write lock.
func (c *Client) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	return c.Conn.WriteMessage(messageType, data)
}

// IsAuthenticated reports whether the client has answered its challenge.
func (c *Client) IsAuthenticated() bool {
	return c.authenticated.Load()
}

// State returns the connection state.
func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

func (c *Client) setState(state ClientState) {
	c.state.Store(int32(state))
}

func (c *Client) markAuthenticated() {
	c.setState(StateAuthenticated)
	c.authenticated.Store(true)
}

// Context returns a context that ends with the connection.
func (c *Client) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}
