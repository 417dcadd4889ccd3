package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/debug"
	"github.com/rhuss/colloquy/pkg/observability"
	"github.com/rhuss/colloquy/pkg/provider"
	"github.com/rhuss/colloquy/pkg/transport"
)

// exchange is one request/response cycle against a provider.
type exchange struct {
	req     *transport.SendRequest
	thread  *api.Thread
	adapter provider.Provider
	secret  string
	chat    *provider.ChatRequest

	state api.ExchangeState
	start time.Time
}

func (x *exchange) advance(to api.ExchangeState) error {
	if apiErr := api.ValidateExchangeTransition(x.state, to); apiErr != nil {
		return apiErr
	}
	debug.Log("engine", "exchange transition", "thread_id", x.thread.ID, "from", x.state, "to", to)
	x.state = to
	return nil
}

func (x *exchange) label() string { return string(x.thread.Provider) }

// runStream relays deltas as they arrive and persists the reply on natural
// completion.
func (e *Engine) runStream(ctx, exCtx context.Context, x *exchange, w transport.EventWriter) error {
	if err := x.advance(api.ExchangeAwaitingUpstream); err != nil {
		return err
	}
	events, err := x.adapter.StreamChat(exCtx, x.secret, x.chat)
	if err != nil {
		if exCtx.Err() != nil {
			return e.cancelled(exCtx, x)
		}
		return e.failed(ctx, x, err, w)
	}
	if err := x.advance(api.ExchangeStreaming); err != nil {
		return err
	}

	var text strings.Builder
	relayed := 0
	for {
		select {
		case <-exCtx.Done():
			return e.cancelled(exCtx, x)
		case ev, ok := <-events:
			if !ok {
				if exCtx.Err() != nil {
					return e.cancelled(exCtx, x)
				}
				return e.failed(ctx, x, &api.APIError{
					Code:      api.CodeUpstreamNetwork,
					Message:   "upstream stream ended before completion",
					Retryable: true,
				}, w)
			}

			switch ev.Type {
			case provider.StreamEventDelta:
				if ev.Text == "" {
					continue
				}
				if relayed == 0 {
					observability.TimeToFirstDelta.WithLabelValues(x.label()).Observe(e.now().Sub(x.start).Seconds())
				}
				text.WriteString(ev.Text)
				if err := w.WriteDelta(exCtx, ev.Text); err != nil {
					// The client is gone; nothing more can be relayed.
					debug.Log("relay", "delta write failed", "thread_id", x.thread.ID, "error", err)
					return e.cancelled(exCtx, x)
				}
				relayed++
				observability.DeltasRelayed.WithLabelValues(x.label()).Inc()

			case provider.StreamEventDone:
				// done and a cancel can be ready together; the cancel wins.
				if exCtx.Err() != nil {
					return e.cancelled(exCtx, x)
				}
				full := text.String()
				if relayed == 0 {
					full = ev.Text
				}
				recordUsage(x, ev.Usage)
				return e.finalize(ctx, x, full, w)

			case provider.StreamEventError:
				if ev.Err == nil {
					return e.failed(ctx, x, &api.APIError{Code: api.CodeUpstreamUnknown, Message: "upstream stream failed"}, w)
				}
				return e.failed(ctx, x, ev.Err, w)
			}
		}
	}
}

// runBuffered serves a streaming request for a model that cannot stream: the
// full reply is relayed as a single delta followed by done.
func (e *Engine) runBuffered(ctx, exCtx context.Context, x *exchange, w transport.EventWriter) error {
	if err := x.advance(api.ExchangeAwaitingUpstream); err != nil {
		return err
	}
	res, err := x.adapter.Chat(exCtx, x.secret, x.chat)
	if err != nil {
		if exCtx.Err() != nil {
			return e.cancelled(exCtx, x)
		}
		return e.failed(ctx, x, err, w)
	}
	if exCtx.Err() != nil {
		return e.cancelled(exCtx, x)
	}
	if err := x.advance(api.ExchangeStreaming); err != nil {
		return err
	}
	if res.Text != "" {
		observability.TimeToFirstDelta.WithLabelValues(x.label()).Observe(e.now().Sub(x.start).Seconds())
		if err := w.WriteDelta(exCtx, res.Text); err != nil {
			return e.cancelled(exCtx, x)
		}
		observability.DeltasRelayed.WithLabelValues(x.label()).Inc()
	}
	if exCtx.Err() != nil {
		return e.cancelled(exCtx, x)
	}
	recordUsage(x, res.Usage)
	return e.finalize(ctx, x, res.Text, w)
}

// runChat performs a non-streaming exchange.
func (e *Engine) runChat(ctx, exCtx context.Context, x *exchange, w transport.EventWriter) error {
	if err := x.advance(api.ExchangeAwaitingUpstream); err != nil {
		return err
	}
	res, err := x.adapter.Chat(exCtx, x.secret, x.chat)
	if err != nil {
		if exCtx.Err() != nil {
			return e.cancelled(exCtx, x)
		}
		return e.failed(ctx, x, err, w)
	}
	if exCtx.Err() != nil {
		return e.cancelled(exCtx, x)
	}
	recordUsage(x, res.Usage)
	return e.finalize(ctx, x, res.Text, w)
}

// finalize persists the reply and reports it. Callers check for cancellation
// first; from here on the write is not cancellable.
func (e *Engine) finalize(ctx context.Context, x *exchange, text string, w transport.EventWriter) error {
	if err := x.advance(api.ExchangeFinalizing); err != nil {
		return err
	}

	msg, err := e.store.AppendMessage(context.WithoutCancel(ctx), x.thread.ID, api.RoleAssistant, text, x.req.RequestID)
	if err != nil {
		slog.Error("failed to store assistant message", "thread_id", x.thread.ID, "error", err)
		return e.failed(ctx, x, api.NewInternalError("failed to store reply"), w)
	}

	if err := x.advance(api.ExchangeCompleted); err != nil {
		return err
	}
	observability.ExchangesTotal.WithLabelValues(x.label(), observability.OutcomeCompleted).Inc()
	observability.ExchangeDuration.WithLabelValues(x.label()).Observe(e.now().Sub(x.start).Seconds())
	debug.Log("engine", "exchange completed", "thread_id", x.thread.ID, "message_id", msg.ID, "length", len(text))

	if x.req.Stream {
		return w.WriteDone(ctx, msg)
	}
	return w.WriteMessage(ctx, msg)
}

// failed classifies err and ends the exchange. Streaming failures are written
// as an error event; non-streaming ones are returned for the caller.
func (e *Engine) failed(ctx context.Context, x *exchange, err error, w transport.EventWriter) error {
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("exchange failed", "thread_id", x.thread.ID, "error", err)
		apiErr = api.NewInternalError("exchange failed")
	}

	if terr := x.advance(api.ExchangeFailed); terr != nil {
		return terr
	}
	observability.ExchangesTotal.WithLabelValues(x.label(), observability.OutcomeFailed).Inc()
	observability.ExchangeDuration.WithLabelValues(x.label()).Observe(e.now().Sub(x.start).Seconds())
	if apiErr.Code.IsUpstream() {
		observability.UpstreamErrorsTotal.WithLabelValues(x.label(), string(apiErr.Code)).Inc()
	}
	slog.Warn("exchange failed", "thread_id", x.thread.ID, "provider", x.thread.Provider,
		"code", apiErr.Code, "message", debug.Truncate(apiErr.Message, 200))

	if x.req.Stream {
		return w.WriteError(ctx, apiErr)
	}
	return apiErr
}

// cancelled ends the exchange without a reply. Nothing is written: the client
// either left or asked for the cancellation.
func (e *Engine) cancelled(exCtx context.Context, x *exchange) error {
	if err := x.advance(api.ExchangeCancelled); err != nil {
		return err
	}
	observability.ExchangesTotal.WithLabelValues(x.label(), observability.OutcomeCancelled).Inc()
	debug.Log("engine", "exchange cancelled", "thread_id", x.thread.ID)
	if err := exCtx.Err(); err != nil {
		return err
	}
	return context.Canceled
}

func recordUsage(x *exchange, u api.Usage) {
	if u.InputTokens > 0 {
		observability.TokensTotal.WithLabelValues(x.label(), "input").Add(float64(u.InputTokens))
	}
	if u.OutputTokens > 0 {
		observability.TokensTotal.WithLabelValues(x.label(), "output").Add(float64(u.OutputTokens))
	}
}
