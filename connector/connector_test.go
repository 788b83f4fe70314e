package connector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tailored-agentic-units/converse/core/protocol"
)

// fakeSession is a scripted in-memory tool server session.
type fakeSession struct {
	tools      []protocol.Tool
	callResult Result
	callErr    error
	closed     bool
}

func (s *fakeSession) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	return s.tools, nil
}

func (s *fakeSession) CallTool(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	return s.callResult, s.callErr
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

// flakyDialer fails a configured number of times before succeeding.
type flakyDialer struct {
	failures int
	errs     []error
	attempts int
	sess     *fakeSession
}

func (d *flakyDialer) dial(ctx context.Context, cfg ServerConfig) (Session, error) {
	d.attempts++
	if d.attempts <= d.failures {
		if len(d.errs) >= d.attempts {
			return nil, d.errs[d.attempts-1]
		}
		return nil, errors.New("connection refused")
	}
	return d.sess, nil
}

// sleepRecorder captures backoff delays instead of waiting them out.
type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDiscover_RetriesThenSucceeds(t *testing.T) {
	dialer := &flakyDialer{
		failures: 2,
		sess:     &fakeSession{tools: []protocol.Tool{{Name: "calculator"}}},
	}
	recorder := &sleepRecorder{}
	c := New(WithDialer(dialer.dial), WithSleeper(recorder.sleep), WithLogger(quietLogger()))

	tools, err := c.Discover(context.Background(), ServerConfig{Name: "calc"})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if len(tools) != 1 || tools[0].Name != "calculator" {
		t.Errorf("got tools %+v, want one named calculator", tools)
	}
	if dialer.attempts != 3 {
		t.Errorf("got %d dial attempts, want 3", dialer.attempts)
	}

	// Backoff doubles from 500ms between attempts.
	want := []time.Duration{500 * time.Millisecond, time.Second}
	if len(recorder.delays) != len(want) {
		t.Fatalf("got %d sleeps %v, want %d", len(recorder.delays), recorder.delays, len(want))
	}
	for i, d := range want {
		if recorder.delays[i] != d {
			t.Errorf("sleep %d: got %v, want %v", i, recorder.delays[i], d)
		}
	}
	if !dialer.sess.closed {
		t.Error("expected session to be closed after Discover")
	}
}

func TestDiscover_ExhaustsAttempts(t *testing.T) {
	dialer := &flakyDialer{failures: 10}
	recorder := &sleepRecorder{}
	c := New(WithDialer(dialer.dial), WithSleeper(recorder.sleep), WithLogger(quietLogger()))

	_, err := c.Discover(context.Background(), ServerConfig{Name: "down"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("got %v, want ErrConnectionFailed", err)
	}
	if dialer.attempts != 3 {
		t.Errorf("got %d dial attempts, want 3", dialer.attempts)
	}
}

func TestConnect_ResourceContentionBacksOffFurther(t *testing.T) {
	dialer := &flakyDialer{
		failures: 1,
		errs:     []error{errors.New("fork/exec: resource temporarily unavailable")},
		sess:     &fakeSession{},
	}
	recorder := &sleepRecorder{}
	c := New(WithDialer(dialer.dial), WithSleeper(recorder.sleep), WithLogger(quietLogger()))

	_, err := c.Discover(context.Background(), ServerConfig{Name: "busy"})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	// Contention adds a linear 1s delay after the failed attempt, then the
	// normal 500ms backoff runs before the retry.
	want := []time.Duration{time.Second, 500 * time.Millisecond}
	if len(recorder.delays) != len(want) {
		t.Fatalf("got sleeps %v, want %v", recorder.delays, want)
	}
	for i, d := range want {
		if recorder.delays[i] != d {
			t.Errorf("sleep %d: got %v, want %v", i, recorder.delays[i], d)
		}
	}
}

func TestConnect_NoContentionDelayAfterFinalAttempt(t *testing.T) {
	eagain := errors.New("fork/exec: resource temporarily unavailable")
	dialer := &flakyDialer{
		failures: 3,
		errs:     []error{eagain, eagain, eagain},
	}
	recorder := &sleepRecorder{}
	c := New(WithDialer(dialer.dial), WithSleeper(recorder.sleep), WithLogger(quietLogger()))

	_, err := c.Discover(context.Background(), ServerConfig{Name: "busy"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("got %v, want ErrConnectionFailed", err)
	}

	// Contention and backoff delays interleave between attempts, but once
	// the last attempt has failed the error returns immediately.
	want := []time.Duration{
		time.Second,            // contention after attempt 1
		500 * time.Millisecond, // backoff before attempt 2
		2 * time.Second,        // contention after attempt 2
		time.Second,            // backoff before attempt 3
	}
	if len(recorder.delays) != len(want) {
		t.Fatalf("got sleeps %v, want %v", recorder.delays, want)
	}
	for i, d := range want {
		if recorder.delays[i] != d {
			t.Errorf("sleep %d: got %v, want %v", i, recorder.delays[i], d)
		}
	}
}

func TestConnect_UnsupportedTransport(t *testing.T) {
	c := New(WithLogger(quietLogger()))

	_, err := c.Discover(context.Background(), ServerConfig{Name: "http-server", Transport: "sse"})
	if !errors.Is(err, ErrUnsupportedTransport) {
		t.Errorf("got %v, want ErrUnsupportedTransport", err)
	}
}

func TestConnect_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dialer := &flakyDialer{failures: 10}
	c := New(
		WithDialer(dialer.dial),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}),
		WithLogger(quietLogger()),
	)

	_, err := c.Discover(ctx, ServerConfig{Name: "slow"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestInvoke(t *testing.T) {
	sess := &fakeSession{callResult: Result{Content: "4"}}
	dialer := &flakyDialer{sess: sess}
	c := New(WithDialer(dialer.dial), WithLogger(quietLogger()))

	result, err := c.Invoke(context.Background(), ServerConfig{Name: "calc"}, "calculator", json.RawMessage(`{"expression":"2+2"}`))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if result.Content != "4" {
		t.Errorf("got content %q, want %q", result.Content, "4")
	}
	if !sess.closed {
		t.Error("expected session to be closed after Invoke")
	}
}

func TestInvoke_CallError(t *testing.T) {
	sess := &fakeSession{callErr: errors.New("division by zero")}
	dialer := &flakyDialer{sess: sess}
	c := New(WithDialer(dialer.dial), WithLogger(quietLogger()))

	_, err := c.Invoke(context.Background(), ServerConfig{Name: "calc"}, "calculator", nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !sess.closed {
		t.Error("expected session to be closed even after a call error")
	}
}

func TestIsResourceContention(t *testing.T) {
	if !isResourceContention(errors.New("Resource Temporarily Unavailable")) {
		t.Error("expected string match to be case-insensitive")
	}
	if isResourceContention(errors.New("connection refused")) {
		t.Error("connection refused is not resource contention")
	}
}
