// Package rpc implements the two RPC flows: a server-side consume loop
// that serves local operations to remote callers, and a client-side call
// that places a request and waits for its result.
//
// The server flow follows the usual accept-loop-plus-middleware-chain
// shape, built once at startup; the client flow places a call and waits on
// its result. Rather than relying on one connection's send-then-receive
// ordering to avoid missing a reply, this engine relies on
// transport.ResultTransport.GetReturnPath registering the reply channel
// before CallRPC ever writes to the wire (see transport/tcprpc), racing
// the two halves with golang.org/x/sync/errgroup.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"go.uber.org/zap"

	"gobus/api"
	"gobus/berrors"
	"gobus/blog"
	"gobus/casting"
	"gobus/config"
	"gobus/deform"
	"gobus/hook"
	"gobus/message"
	"gobus/middleware"
	"gobus/schema"
	"gobus/transport"
)

// CallOptions carries per-call overrides for CallRemote.
type CallOptions struct {
	// Timeout overrides config.APIConfig.RPCTimeout for this call when
	// non-zero.
	Timeout time.Duration
}

// Engine runs both RPC flows against a set of registered APIs, bound to
// their transports via a transport.Registry and validated against a
// schema.Coordinator.
type Engine struct {
	apis     *api.Registry
	registry *transport.Registry
	schema   *schema.Coordinator
	hooks    *hook.Dispatcher
	cfg      *config.Config
	logger   *blog.Logger

	// ConsumeRate throttles how fast a consumer group pulls batches from
	// ConsumeRPCs, applying the same token-bucket rate limiting as
	// middleware.RateLimitMiddleware to the consume loop itself rather
	// than a single handler. Zero (the default) leaves it unlimited.
	ConsumeRate  float64
	ConsumeBurst int
}

// New builds an Engine. cfg supplies per-API RPCTimeout, CastValues, and
// RateLimit/RateBurst.
func New(apis *api.Registry, registry *transport.Registry, coordinator *schema.Coordinator, hooks *hook.Dispatcher, cfg *config.Config, logger *blog.Logger) *Engine {
	if logger == nil {
		logger = blog.NewNop()
	}
	return &Engine{
		apis:     apis,
		registry: registry,
		schema:   coordinator,
		hooks:    hooks,
		cfg:      cfg,
		logger:   logger,
	}
}

// Consume runs the server-side consume loop for apiNames, or every API in
// the registry when apiNames is empty. It blocks until ctx is cancelled or
// every consumer group's transport reports closed.
func (e *Engine) Consume(ctx context.Context, client hook.Client, apiNames []string) error {
	if len(apiNames) == 0 {
		apiNames = e.apis.Names()
	}
	if len(apiNames) == 0 {
		return &berrors.NoApisToListenOn{}
	}

	groups, err := e.registry.GetRPCTransports(apiNames)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			return e.consumeGroup(ctx, client, group)
		})
	}
	return g.Wait()
}

func (e *Engine) consumeGroup(ctx context.Context, client hook.Client, group transport.RPCTransportGroup) error {
	var limiter *rate.Limiter
	if e.ConsumeRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(e.ConsumeRate), e.ConsumeBurst)
	}

	ctx, terminate := context.WithCancelCause(ctx)
	defer terminate(nil)

	for {
		select {
		case <-ctx.Done():
			if cause := context.Cause(ctx); cause != nil && cause != context.Canceled {
				return cause
			}
			return nil
		default:
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				if cause := context.Cause(ctx); cause != nil && cause != context.Canceled {
					return cause
				}
				return nil
			}
		}

		messages, err := group.Transport.ConsumeRPCs(ctx, group.APINames)
		if err != nil {
			if ctx.Err() != nil {
				if cause := context.Cause(ctx); cause != nil && cause != context.Canceled {
					return cause
				}
				return nil
			}
			if _, closed := err.(*berrors.TransportIsClosed); closed {
				return nil
			}
			return err
		}

		for _, msg := range messages {
			msg := msg
			go e.handleRequest(ctx, client, msg, terminate)
		}
	}
}

// handleRequest runs one inbound RpcMessage through validation, the
// middleware-wrapped local handler, and dispatches the result back over
// the result transport serving msg's API. It never returns an error to
// its caller: failures become an error ResultMessage, except for
// cancellation and a SuddenDeathException, which both drop the request
// with no result — a SuddenDeathException additionally calls terminate
// to stop the owning consumeGroup. Its own per-request goroutine has
// nothing else to report either failure to.
func (e *Engine) handleRequest(ctx context.Context, client hook.Client, msg *message.RpcMessage, terminate context.CancelCauseFunc) {
	resultTransport, err := e.registry.GetResultTransport(msg.APIName)
	if err != nil {
		e.logger.Error("rpc: no result transport for api", zap.Error(err))
		return
	}

	res, died := e.runHandlerChain(ctx, client, msg, terminate)
	if died || res == nil {
		return
	}

	if !res.Error {
		if err := e.schema.Validate(schema.Outgoing, msg.APIName, msg.ProcedureName, resultFields(res)); err != nil {
			res = message.NewErrorResult(msg.ID, err.Error(), "")
		}
	}

	if err := resultTransport.SendResult(ctx, msg, res, msg.ReturnPath); err != nil {
		e.logger.Error("rpc: send result failed", zap.Error(err))
	}
}

// runHandlerChain runs msg through the middleware chain and the local
// handler. died reports whether the request should be dropped with no
// result — either a SuddenDeathException reached terminate, or the
// request was cancelled. A nil res with died false also means drop: the
// middleware chain itself (TimeOutMiddleware) can produce that for
// outer-context cancellation.
func (e *Engine) runHandlerChain(ctx context.Context, client hook.Client, msg *message.RpcMessage, terminate context.CancelCauseFunc) (res *message.ResultMessage, died bool) {
	apiCfg := e.cfg.API(msg.APIName)

	chain := []middleware.Middleware{middleware.LoggingMiddleware(e.logger)}
	if apiCfg.RateLimit > 0 {
		chain = append(chain, middleware.RateLimitMiddleware(apiCfg.RateLimit, apiCfg.RateBurst))
	}
	chain = append(chain, middleware.TimeOutMiddleware(apiCfg.RPCTimeout))

	handler := middleware.Chain(chain...)(func(ctx context.Context, req *message.RpcMessage) *message.ResultMessage {
		res, died = e.executeLocal(ctx, client, req, apiCfg, terminate)
		return res
	})
	res = handler(ctx, msg)
	return res, died
}

// executeLocal runs msg's local procedure and builds its ResultMessage.
// Two kinds of failure preserve their exception identity instead of
// becoming a generic error ResultMessage: a SuddenDeathException stops
// the whole consumer group, calling terminate so consumeGroup's loop
// exits and the error surfaces from Engine.Consume; a context.Canceled
// (the handler itself observing ctx.Done(), usually because the owning
// consumeGroup's context was cancelled by a shutdown) is dropped with no
// result, since there is no well-formed response to give a caller for a
// request that was cancelled out from under it.
func (e *Engine) executeLocal(ctx context.Context, client hook.Client, msg *message.RpcMessage, apiCfg config.APIConfig, terminate context.CancelCauseFunc) (res *message.ResultMessage, died bool) {
	if err := e.schema.Validate(schema.Incoming, msg.APIName, msg.ProcedureName, msg.Kwargs); err != nil {
		return message.NewErrorResult(msg.ID, err.Error(), ""), false
	}

	args := hook.Args{RPCMessage: msg}
	if err := e.hooks.Fire(ctx, client, hook.BeforeRPCExecution, args); err != nil {
		return message.NewErrorResult(msg.ID, err.Error(), ""), false
	}

	result, err := e.callLocal(ctx, msg, apiCfg)

	if err != nil {
		if deathErr, ok := err.(*berrors.SuddenDeathException); ok {
			e.logger.Error("rpc: sudden death exception, terminating consumer", zap.Error(deathErr))
			terminate(deathErr)
			return nil, true
		}
		if errors.Is(err, context.Canceled) {
			return nil, true
		}
		res = message.NewErrorResult(msg.ID, err.Error(), fmt.Sprintf("%+v", err))
	} else {
		res = message.NewSuccessResult(msg.ID, deform.ToBus(result))
	}

	args.ResultMessage = res
	_ = e.hooks.Fire(ctx, client, hook.AfterRPCExecution, args)
	return res, false
}

// callLocal looks up msg's procedure on its API, casts kwargs per
// apiCfg.CastValues, and invokes the handler.
func (e *Engine) callLocal(ctx context.Context, msg *message.RpcMessage, apiCfg config.APIConfig) (result any, err error) {
	a, err := e.apis.Get(msg.APIName)
	if err != nil {
		return nil, err
	}
	op, ok := a.Operation(msg.ProcedureName)
	if !ok {
		return nil, &berrors.InvalidName{Kind: "procedure", Name: msg.CanonicalName()}
	}

	kwargs := msg.Kwargs
	if apiCfg.CastValues {
		kwargs, err = casting.ToSignature(kwargs, op.ParamTypes)
		if err != nil {
			return nil, err
		}
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("rpc: handler panicked", zap.Any("recovered", r))
			err = fmt.Errorf("rpc: handler panicked: %v", r)
		}
	}()
	return op.Handler(ctx, kwargs)
}

// CallRemote places a call to apiName.procedureName and returns the
// deformed result.
func (e *Engine) CallRemote(ctx context.Context, client hook.Client, apiName, procedureName string, kwargs map[string]any, opts CallOptions) (any, error) {
	canonicalName := apiName + "." + procedureName
	if _, err := e.apis.Get(apiName); err != nil {
		if _, ok := err.(*berrors.UnknownApi); !ok {
			return nil, err
		}
		// A remote-only API (no local registration) is legal: kwargs
		// validation still runs against the schema coordinator below.
	}

	rpcTransport, err := e.registry.GetRPCTransport(apiName)
	if err != nil {
		return nil, err
	}
	resultTransport, err := e.registry.GetResultTransport(apiName)
	if err != nil {
		return nil, err
	}

	msg := message.NewRpcMessage(apiName, procedureName, deform.KwargsToBus(kwargs))

	if err := e.schema.Validate(schema.Outgoing, apiName, procedureName, msg.Kwargs); err != nil {
		return nil, err
	}

	returnPath, err := resultTransport.GetReturnPath(ctx, msg)
	if err != nil {
		return nil, err
	}
	msg.ReturnPath = returnPath

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.cfg.API(apiName).RPCTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := hook.Args{RPCMessage: msg}
	if err := e.hooks.Fire(callCtx, client, hook.BeforeRPCCall, args); err != nil {
		return nil, err
	}

	var res *message.ResultMessage
	g, gctx := errgroup.WithContext(callCtx)
	g.Go(func() error {
		var err error
		res, err = resultTransport.ReceiveResult(gctx, msg, returnPath, transport.CallOptions{Timeout: timeout})
		return err
	})
	g.Go(func() error {
		return rpcTransport.CallRPC(gctx, msg, transport.CallOptions{Timeout: timeout})
	})

	if err := g.Wait(); err != nil {
		if callCtx.Err() != nil {
			_ = rpcTransport.Cancel(context.Background(), msg.ID.String())
			return nil, &berrors.LightbusTimeout{CanonicalName: canonicalName, Timeout: timeout}
		}
		return nil, err
	}
	if callCtx.Err() != nil {
		_ = rpcTransport.Cancel(context.Background(), msg.ID.String())
		return nil, &berrors.LightbusTimeout{CanonicalName: canonicalName, Timeout: timeout}
	}

	args.ResultMessage = res
	_ = e.hooks.Fire(ctx, client, hook.AfterRPCCall, args)

	if res.Error {
		return nil, &berrors.LightbusServerError{CanonicalName: canonicalName, Description: fmt.Sprint(res.Result), Trace: res.Trace}
	}

	if err := e.schema.Validate(schema.Incoming, apiName, procedureName, resultFields(res)); err != nil {
		return nil, err
	}
	return res.Result, nil
}

func resultFields(res *message.ResultMessage) map[string]any {
	if fields, ok := res.Result.(map[string]any); ok {
		return fields
	}
	return nil
}
