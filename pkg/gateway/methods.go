package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/harun/jobats/internal/observability"
	"github.com/harun/jobats/internal/tracing"
	"github.com/harun/jobats/pkg/dispatcher"
	"github.com/harun/jobats/pkg/journal"
	"github.com/harun/jobats/pkg/provider"
)

type suggestParams struct {
	TabID        int                `json:"tabId"`
	RequestID    string             `json:"requestId"`
	Messages     []provider.Message `json:"messages"`
	Profile      string             `json:"profile"`
	Model        string             `json:"model"`
	SystemPrompt string             `json:"systemPrompt"`
	Temperature  *float64           `json:"temperature"`
	MaxTokens    *int               `json:"maxTokens"`
	MaxRetries   *int               `json:"maxRetries"`
}

type historyParams struct {
	TabID   *int   `json:"tabId"`
	Outcome string `json:"outcome"`
	Limit   int    `json:"limit"`
}

// registerBuiltinMethods registers all built-in RPC methods
func (s *Server) registerBuiltinMethods() error {
	schemaMethods := []struct {
		name    string
		schema  string
		handler RequestHandler
	}{
		{"ai.suggest", suggestSchema, s.handleSuggest},
		{"tab.closed", tabClosedSchema, s.handleTabClosed},
		{"request.cancel", requestCancelSchema, s.handleRequestCancel},
		{"events.subscribe", subscribeSchema, s.handleSubscribe},
		{"events.unsubscribe", subscribeSchema, s.handleUnsubscribe},
	}
	for _, m := range schemaMethods {
		if err := s.router.RegisterMethodWithSchema(m.name, m.schema, m.handler); err != nil {
			return err
		}
	}

	if err := s.router.RegisterMethod("ping", s.handlePing); err != nil {
		return err
	}
	if err := s.router.RegisterMethod("queue.status", s.handleQueueStatus); err != nil {
		return err
	}
	if s.history != nil {
		if err := s.router.RegisterMethodWithSchema("requests.history", historySchema, s.handleHistory); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handlePing(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UnixMilli(),
	}, nil
}

// handleSuggest runs one provider call on the tab's lane and waits for it to settle.
func (s *Server) handleSuggest(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	var p suggestParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	requestID := p.RequestID
	if requestID == "" {
		requestID = tracing.NewRequestID()
	}
	ctx = tracing.WithRequestID(ctx, requestID)
	ctx = tracing.WithTabID(ctx, strconv.Itoa(p.TabID))
	logger := tracing.LoggerFromContext(ctx, s.logger)

	defaults := s.requestDefaults()
	call := provider.Request{
		Model:        p.Model,
		Messages:     p.Messages,
		SystemPrompt: p.SystemPrompt,
		Temperature:  defaults.Temperature,
		MaxTokens:    defaults.MaxTokens,
	}
	if call.SystemPrompt == "" {
		call.SystemPrompt = defaults.SystemPrompt
	}
	if p.Temperature != nil {
		call.Temperature = *p.Temperature
	}
	if p.MaxTokens != nil {
		call.MaxTokens = *p.MaxTokens
	}

	op := func(ctx context.Context) (interface{}, error) {
		llm, profile, err := s.providers.Get(ctx, p.Profile)
		if err != nil {
			return nil, err
		}
		req := call
		if req.Model == "" {
			req.Model = profile.Model
		}
		return llm.Call(ctx, req)
	}

	// WebSocket callers follow the tab they submit for.
	clientID := tracing.GetClientID(ctx)
	if clientID != "" {
		s.clients.Watch(clientID, p.TabID)
	}

	opts := []dispatcher.SubmitOption{dispatcher.WithRequestID(requestID)}
	if p.MaxRetries != nil {
		opts = append(opts, dispatcher.WithMaxRetries(*p.MaxRetries))
	}
	if defaults.WarnAfter > 0 {
		opts = append(opts, dispatcher.WithWarnAfter(defaults.WarnAfter, func(wait time.Duration, position int) {
			if clientID == "" {
				return
			}
			s.broadcaster.BroadcastToClient(clientID, EventMessage{
				Event:     "request.waiting",
				TabID:     p.TabID,
				RequestID: requestID,
				Data: map[string]interface{}{
					"waitMs":   wait.Milliseconds(),
					"position": position,
				},
			})
		}))
	}

	value, err := s.dispatcher.Submit(ctx, p.TabID, op, opts...).Result()
	if err != nil {
		logger.Debug().Err(err).Msg("Suggestion request did not succeed")
		return nil, requestError(requestID, err)
	}

	resp, ok := value.(*provider.Response)
	if !ok {
		return nil, fmt.Errorf("unexpected provider result %T", value)
	}
	return map[string]interface{}{
		"requestId": requestID,
		"content":   resp.Content,
		"model":     resp.Model,
		"usage":     resp.Usage,
	}, nil
}

// requestError maps a settled request's error onto an RPC error.
func requestError(requestID string, err error) *RPCError {
	data := map[string]interface{}{"requestId": requestID}
	code := InternalError

	var perr *provider.Error
	switch {
	case errors.Is(err, dispatcher.ErrAborted):
		code = RequestAborted
		data["outcome"] = string(dispatcher.OutcomeAborted)
	case errors.Is(err, dispatcher.ErrCancelled):
		code = RequestCancelled
		data["outcome"] = string(dispatcher.OutcomeCancelled)
	case errors.Is(err, dispatcher.ErrClosed):
		code = Unavailable
	case errors.As(err, &perr):
		code = ProviderFailure
		data["provider"] = perr.Provider
		data["status"] = perr.StatusCode
	}

	return &RPCError{Code: code, Message: err.Error(), Data: data}
}

func (s *Server) handleTabClosed(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	var p struct {
		TabID int `json:"tabId"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	n := s.dispatcher.CancelTab(p.TabID)
	s.clients.ForgetTab(p.TabID)
	observability.RecordCancelAudit(ctx, "tab.closed", strconv.Itoa(p.TabID), n)

	return map[string]interface{}{
		"tabId":     p.TabID,
		"cancelled": true,
		"aborted":   n,
	}, nil
}

func (s *Server) handleRequestCancel(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	var p struct {
		RequestID string `json:"requestId"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	tabID, found := s.dispatcher.Cancel(p.RequestID)
	if !found {
		return map[string]interface{}{
			"requestId": p.RequestID,
			"found":     false,
		}, nil
	}

	observability.RecordCancelAudit(ctx, "request.cancel", strconv.Itoa(tabID), 1)
	return map[string]interface{}{
		"requestId": p.RequestID,
		"found":     true,
		"tabId":     tabID,
	}, nil
}

type subscribeParams struct {
	TabIDs []int `json:"tabIds"`
	All    *bool `json:"all"`
}

func (s *Server) handleSubscribe(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	clientID, p, err := s.subscription(ctx, params)
	if err != nil {
		return nil, err
	}
	s.clients.Watch(clientID, p.TabIDs...)
	if p.All != nil {
		s.clients.SetWatchAll(clientID, *p.All)
	}
	return s.subscriptionResult(clientID), nil
}

func (s *Server) handleUnsubscribe(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	clientID, p, err := s.subscription(ctx, params)
	if err != nil {
		return nil, err
	}
	s.clients.Unwatch(clientID, p.TabIDs...)
	if p.All != nil && *p.All {
		s.clients.SetWatchAll(clientID, false)
	}
	return s.subscriptionResult(clientID), nil
}

func (s *Server) subscription(ctx context.Context, params map[string]interface{}) (string, subscribeParams, error) {
	var p subscribeParams
	clientID := tracing.GetClientID(ctx)
	if clientID == "" {
		return "", p, &RPCError{Code: InvalidRequest, Message: "event subscriptions need a WebSocket connection"}
	}
	if err := decodeParams(params, &p); err != nil {
		return "", p, err
	}
	return clientID, p, nil
}

func (s *Server) subscriptionResult(clientID string) map[string]interface{} {
	tabs, all := s.clients.Subscription(clientID)
	return map[string]interface{}{
		"tabs": tabs,
		"all":  all,
	}
}

func (s *Server) handleQueueStatus(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return s.dispatcher.Status(), nil
}

func (s *Server) handleHistory(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	var p historyParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	filter := journal.Filter{Outcome: p.Outcome, Limit: p.Limit}
	if p.TabID != nil {
		filter.TabID = strconv.Itoa(*p.TabID)
	}

	entries, err := s.history.Recent(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to read request history: %w", err)
	}
	return map[string]interface{}{
		"requests": entries,
	}, nil
}

// BroadcastDispatcherEvent forwards a dispatcher lifecycle event to
// authenticated clients as request.<type>.
func (s *Server) BroadcastDispatcherEvent(ev dispatcher.Event[int]) {
	data := map[string]interface{}{}
	switch ev.Type {
	case dispatcher.EventEnqueued:
		data["position"] = ev.Position
	case dispatcher.EventStarted:
		data["attempt"] = ev.Attempt
	case dispatcher.EventRetrying:
		data["attempt"] = ev.Attempt
		data["delayMs"] = ev.Delay.Milliseconds()
		if ev.Err != nil {
			data["error"] = ev.Err.Error()
		}
	case dispatcher.EventSettled:
		data["outcome"] = string(ev.Outcome)
		data["attempts"] = ev.Attempt
		data["durationMs"] = ev.Duration.Milliseconds()
		if ev.Err != nil {
			data["error"] = ev.Err.Error()
		}
	}

	s.broadcaster.BroadcastToTab(ev.Key, EventMessage{
		Event:     "request." + ev.Type,
		RequestID: ev.RequestID,
		Data:      data,
	})
}
