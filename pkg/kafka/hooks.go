package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	applogger "StockSense/pkg/logger"
)

// ConsumerHook observes message handling. BeforeHandle may enrich the
// context; an error from it fails the attempt without calling the handler.
// OnError fires for every failed attempt, including the last one.
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, error)
	AfterHandle(ctx context.Context, km kafka.Message, err error)
	OnError(ctx context.Context, km kafka.Message, err error)
}

type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, _ kafka.Message) (context.Context, error) {
	return ctx, nil
}
func (NoopHook) AfterHandle(context.Context, kafka.Message, error) {}
func (NoopHook) OnError(context.Context, kafka.Message, error) {}

// HookError is returned when a hook itself fails.
type HookError struct {
	Code string
	Err  error
}

func (e *HookError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return e.Code + ": " + e.Err.Error()
}

func (e *HookError) Unwrap() error { return e.Err }

// HookFuncs adapts plain functions; nil ones are skipped.
type HookFuncs struct {
	Before func(context.Context, kafka.Message) (context.Context, error)
	After  func(context.Context, kafka.Message, error)
	Err    func(context.Context, kafka.Message, error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, error) {
	if h.Before == nil {
		return ctx, nil
	}
	return h.Before(ctx, km)
}

func (h HookFuncs) AfterHandle(ctx context.Context, km kafka.Message, err error) {
	if h.After != nil {
		h.After(ctx, km, err)
	}
}

func (h HookFuncs) OnError(ctx context.Context, km kafka.Message, err error) {
	if h.Err != nil {
		h.Err(ctx, km, err)
	}
}

// HookChain runs hooks in order for BeforeHandle and OnError and in reverse
// for AfterHandle. A panicking hook never takes the consumer down: in
// BeforeHandle it becomes an ERR_PANIC HookError, elsewhere it is dropped.
type HookChain []ConsumerHook

func NewHookChain(hooks ...ConsumerHook) HookChain {
	chain := make(HookChain, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			chain = append(chain, h)
		}
	}
	return chain
}

func (c HookChain) BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, error) {
	for _, h := range c {
		next, err := safeBefore(h, ctx, km)
		if err != nil {
			return ctx, err
		}
		ctx = next
	}
	return ctx, nil
}

func (c HookChain) AfterHandle(ctx context.Context, km kafka.Message, err error) {
	for i := len(c) - 1; i >= 0; i-- {
		h := c[i]
		swallow(func() { h.AfterHandle(ctx, km, err) })
	}
}

func (c HookChain) OnError(ctx context.Context, km kafka.Message, err error) {
	for _, h := range c {
		swallow(func() { h.OnError(ctx, km, err) })
	}
}

func safeBefore(h ConsumerHook, ctx context.Context, km kafka.Message) (next context.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			next, err = ctx, &HookError{Code: "ERR_PANIC", Err: fmt.Errorf("hook panic: %v", r)}
		}
	}()
	return h.BeforeHandle(ctx, km)
}

func swallow(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

type ctxKey int

const (
	ctxStart ctxKey = iota
	ctxTraceID
	ctxAttempt
)

// TraceIDHeader carries a correlation id from the publisher.
const TraceIDHeader = "trace_id"

// TraceID returns the id TraceHook stored, if any.
func TraceID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxTraceID).(string)
	return id, ok
}

// StartTime returns when TraceHook saw the current attempt begin.
func StartTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(ctxStart).(time.Time)
	return t, ok
}

// Attempt is the 1-based attempt number the consumer is on.
func Attempt(ctx context.Context) int {
	n, _ := ctx.Value(ctxAttempt).(int)
	return n
}

func withAttempt(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, ctxAttempt, n)
}

// TraceHook stamps the attempt start time and the trace id header.
func TraceHook() ConsumerHook {
	return HookFuncs{
		Before: func(ctx context.Context, km kafka.Message) (context.Context, error) {
			ctx = context.WithValue(ctx, ctxStart, time.Now())
			for _, h := range km.Headers {
				if h.Key == TraceIDHeader && len(h.Value) > 0 {
					ctx = context.WithValue(ctx, ctxTraceID, string(h.Value))
					break
				}
			}
			return ctx, nil
		},
	}
}

// LoggingHook logs handled messages at debug and failed attempts at warn.
func LoggingHook(l *applogger.Logger) ConsumerHook {
	if l == nil {
		return NoopHook{}
	}
	fields := func(ctx context.Context, km kafka.Message) []applogger.Field {
		fs := []applogger.Field{
			applogger.String("topic", km.Topic),
			applogger.Int("partition", km.Partition),
			applogger.Int64("offset", km.Offset),
		}
		if n := Attempt(ctx); n > 0 {
			fs = append(fs, applogger.Int("attempt", n))
		}
		if id, ok := TraceID(ctx); ok {
			fs = append(fs, applogger.String("trace_id", id))
		}
		if start, ok := StartTime(ctx); ok {
			fs = append(fs, applogger.Duration("duration_ms", time.Since(start)))
		}
		return fs
	}
	return HookFuncs{
		After: func(ctx context.Context, km kafka.Message, err error) {
			if err == nil {
				l.Debug("kafka message handled", fields(ctx, km)...)
			}
		},
		Err: func(ctx context.Context, km kafka.Message, err error) {
			l.Warn("kafka message failed", append(fields(ctx, km), applogger.Error(err))...)
		},
	}
}
