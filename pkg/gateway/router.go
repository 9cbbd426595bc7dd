package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/harun/jobats/internal/observability"
	"github.com/xeipuuv/gojsonschema"
)

// RPCRouter dispatches JSON-RPC requests to registered handlers after
// validating their params.
type RPCRouter struct {
	mu      sync.RWMutex
	methods map[string]route
	replay  *replayCache
}

type route struct {
	handler RequestHandler
	schema  *gojsonschema.Schema
}

// NewRPCRouter creates a new RPC router
func NewRPCRouter() *RPCRouter {
	return &RPCRouter{
		methods: make(map[string]route),
		replay:  newReplayCache(DefaultIdempotencyTTL),
	}
}

// RegisterMethod registers an RPC method handler
func (r *RPCRouter) RegisterMethod(name string, handler RequestHandler) error {
	return r.register(name, handler, nil)
}

// RegisterMethodWithSchema registers a handler whose params must satisfy
// the given JSON Schema document. Invalid params never reach the handler.
func (r *RPCRouter) RegisterMethodWithSchema(name, schema string, handler RequestHandler) error {
	compiled, err := compileSchema(schema)
	if err != nil {
		return fmt.Errorf("invalid schema for %s: %w", name, err)
	}
	return r.register(name, handler, compiled)
}

func (r *RPCRouter) register(name string, handler RequestHandler, schema *gojsonschema.Schema) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.methods[name] = route{handler: handler, schema: schema}
	return nil
}

// ParseRequest parses and validates a JSON-RPC request
func (r *RPCRouter) ParseRequest(data []byte) (*RPCRequest, error) {
	var req RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &RPCError{
			Code:    ParseError,
			Message: "Parse error",
			Data:    err.Error(),
		}
	}

	if req.ID == "" {
		return nil, &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid request: missing id field",
		}
	}

	if req.Method == "" {
		return nil, &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid request: missing method field",
		}
	}

	if req.JSONRPC == "" {
		req.JSONRPC = "2.0"
	}

	return &req, nil
}

// RouteRequest validates params and runs the matching handler. Requests that
// carry an idempotency key go through the replay cache.
func (r *RPCRouter) RouteRequest(ctx context.Context, req *RPCRequest) *RPCResponse {
	if req == nil {
		return errorResponse("", &RPCError{Code: InvalidRequest, Message: "invalid request"})
	}

	r.mu.RLock()
	rt, exists := r.methods[req.Method]
	r.mu.RUnlock()

	if !exists {
		observability.RecordRPC("unknown", false)
		return errorResponse(req.ID, &RPCError{
			Code:    MethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		})
	}

	if req.Params == nil {
		req.Params = map[string]interface{}{}
	}
	if rt.schema != nil {
		if rpcErr := validateParams(rt.schema, req.Params); rpcErr != nil {
			observability.RecordRPC(req.Method, false)
			return errorResponse(req.ID, rpcErr)
		}
	}

	if key := replayKey(req.Method, req.IdempotencyKey); key != "" {
		return r.replay.do(key, req.ID, func() *RPCResponse {
			return invoke(ctx, rt, req)
		})
	}
	return invoke(ctx, rt, req)
}

func invoke(ctx context.Context, rt route, req *RPCRequest) *RPCResponse {
	result, err := rt.handler(ctx, req.Params)
	if err != nil {
		observability.RecordRPC(req.Method, false)
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			rpcErr = &RPCError{Code: InternalError, Message: err.Error()}
		}
		return errorResponse(req.ID, rpcErr)
	}

	observability.RecordRPC(req.Method, true)
	return &RPCResponse{
		ID:      req.ID,
		JSONRPC: "2.0",
		Result:  result,
	}
}

func errorResponse(id string, rpcErr *RPCError) *RPCResponse {
	return &RPCResponse{
		ID:      id,
		JSONRPC: "2.0",
		Error:   rpcErr,
	}
}

// GetMethods returns all registered method names
func (r *RPCRouter) GetMethods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.methods))
	for name := range r.methods {
		methods = append(methods, name)
	}
	return methods
}
