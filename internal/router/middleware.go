package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"stockwatch/internal/tracker"
	logx "stockwatch/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] is the outermost middleware.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// withDeadline bounds one handler. A zero d leaves the handler unbounded.
func withDeadline(d time.Duration) Middleware {
	if d <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// recoverPanics turns a handler panic into an error so the subscriber still
// gets the generic failure reply.
func recoverPanics(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) (err error) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			req.log().Error("handler panicked", logx.Any("panic", p), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("handler panic: %v", p)
		}()
		return next(ctx, req)
	}
}

// SessionReader reports where a subscriber is in the enrollment conversation.
type SessionReader interface {
	Session(subscriberID int64) (tracker.State, bool)
}

// traceEnrollment logs each request with the subscriber's enrollment state
// before and after it. Requests that move the state log at info.
func traceEnrollment(sessions SessionReader) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			id := req.SubscriberID()
			before, _ := sessions.Session(id)
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)
			after, _ := sessions.Session(id)

			log := req.log().With(
				logx.Int64("subscriber", id),
				logx.String("step", req.Command),
				logx.String("state", after.String()),
				logx.Duration("took", took),
			)
			switch {
			case err != nil:
				log.Warn("request failed", logx.String("was", before.String()), logx.Err(err))
			case before != after:
				log.Info("enrollment moved", logx.String("was", before.String()))
			default:
				log.Debug("request handled")
			}
			return err
		}
	}
}

func (r *Request) log() logx.Logger {
	if r == nil || r.Logger.IsZero() {
		return logx.Nop()
	}
	return r.Logger
}
