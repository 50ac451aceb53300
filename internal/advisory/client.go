package advisory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"trading-signalv1/internal/logger"
)

// DefaultTimeout bounds a single advisory call.
const DefaultTimeout = 8 * time.Second

// Generator sends a prompt to the advisory service and returns its raw
// text answer. Implementations must honour ctx cancellation and should wrap
// ErrQuotaExhausted when the service reports quota exhaustion.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Client races a Generator against a hard timeout and classifies failures.
type Client struct {
	gen     Generator
	timeout time.Duration
	log     *slog.Logger
}

// NewClient creates a Client. A nil gen makes every call fail with
// ErrorOther; a non-positive timeout selects DefaultTimeout.
func NewClient(gen Generator, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		gen:     gen,
		timeout: timeout,
		log:     logger.Component("advisory"),
	}
}

type result struct {
	text string
	err  error
}

// Advise asks the service for a verdict. It never blocks longer than the
// configured timeout: the losing side of the race is cancelled through the
// call's context, and the result channel is buffered so the generator
// goroutine can always finish.
func (c *Client) Advise(ctx context.Context, req Request) Response {
	if c.gen == nil {
		return Failed(ErrorOther, ErrNotConfigured)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := BuildPrompt(req)
	done := make(chan result, 1)
	go func() {
		text, err := c.gen.Generate(callCtx, prompt)
		done <- result{text: text, err: err}
	}()

	var res Response
	select {
	case r := <-done:
		res = c.settle(r)
	case <-callCtx.Done():
		res = Failed(classifyContext(callCtx.Err()), callCtx.Err())
	}

	if !res.OK() {
		c.log.Warn("advisory call failed, fallback engine will decide",
			append(logger.LogWithTrace(ctx),
				slog.String("instrument", req.Instrument),
				slog.String("kind", string(res.ErrorKind)),
				slog.Duration("timeout", c.timeout),
				slog.Any("error", res.Err))...)
	}
	return res
}

func (c *Client) settle(r result) Response {
	if r.err != nil {
		return Failed(Classify(r.err), r.err)
	}
	resp, err := ParseResponse(r.text)
	if err != nil {
		return Failed(ErrorOther, err)
	}
	return resp
}

// Classify maps a generator error onto the failure taxonomy.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorNone
	case errors.Is(err, ErrQuotaExhausted):
		return ErrorQuotaExhausted
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTimeout
	}
	msg := strings.ToUpper(err.Error())
	if strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "QUOTA") {
		return ErrorQuotaExhausted
	}
	return ErrorOther
}

func classifyContext(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	return ErrorOther
}
