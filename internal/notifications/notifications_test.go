package notifications

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afadxb/bot4.1/internal/logger"
	"github.com/afadxb/bot4.1/pkg/types"
)

type captured struct {
	level, message string
}

type fakeNotifier struct {
	sent []captured
	fail bool
}

func (f *fakeNotifier) SendAlert(_ context.Context, level, message string) error {
	if f.fail {
		return errors.New("down")
	}
	f.sent = append(f.sent, captured{level, message})
	return nil
}

func TestAlerter_FiltersByType(t *testing.T) {
	n := &fakeNotifier{}
	a := NewAlerter(n, []string{types.EventDrawdownHalt, " flatten "}, logger.Nop())

	sent := a.Notify(context.Background(), "cycle-1", []types.RiskEvent{
		{Type: types.EventTradeCap, Symbol: "AAA"},
		{Type: types.EventDrawdownHalt, Value: -10.5, Session: "2026-03-02"},
		{Type: types.EventFlatten, Symbol: "BBB", Meta: map[string]any{"reason": "flatten_time"}},
	})
	assert.Equal(t, 2, sent)
	require.Len(t, n.sent, 2)
	assert.Equal(t, LevelError, n.sent[0].level)
	assert.Contains(t, n.sent[0].message, "DRAWDOWN HALT")
	assert.Contains(t, n.sent[0].message, "cycle: cycle-1")
	assert.Equal(t, LevelInfo, n.sent[1].level)
	assert.Contains(t, n.sent[1].message, "FLATTEN BBB")
	assert.Contains(t, n.sent[1].message, "reason: flatten_time")

	resumed := Format("", types.RiskEvent{Type: types.EventHaltResumed, Meta: map[string]any{"trigger": "session_reset"}})
	assert.Contains(t, resumed, "HALT RESUMED")
	assert.Contains(t, resumed, "trigger: session_reset")
	assert.NotContains(t, resumed, "cycle:")
}

func TestAlerter_SendFailureIsSwallowed(t *testing.T) {
	a := NewAlerter(&fakeNotifier{fail: true}, []string{types.EventExecutionFailure}, logger.Nop())
	assert.Zero(t, a.Notify(context.Background(), "", []types.RiskEvent{{Type: types.EventExecutionFailure}}))
}

type blockingNotifier struct {
	calls    atomic.Int32
	timedOut atomic.Int32
}

func (b *blockingNotifier) SendAlert(ctx context.Context, _, _ string) error {
	b.calls.Add(1)
	<-ctx.Done()
	b.timedOut.Add(1)
	return ctx.Err()
}

func TestAlerter_DispatchDoesNotBlock(t *testing.T) {
	n := &blockingNotifier{}
	a := NewAlerter(n, []string{types.EventHaltResumed}, logger.Nop(), WithSendTimeout(200*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	a.Dispatch(ctx, "session-open", []types.RiskEvent{
		{Type: types.EventTradeCap},
		{Type: types.EventHaltResumed, Session: "2026-03-02"},
	})
	assert.Less(t, time.Since(start), 150*time.Millisecond, "dispatch returns before the send finishes")
	cancel()

	a.Wait()
	assert.EqualValues(t, 1, n.calls.Load(), "only matching events are sent")
	assert.EqualValues(t, 1, n.timedOut.Load())
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond, "send outlives caller cancellation")

	a.Dispatch(context.Background(), "", []types.RiskEvent{{Type: types.EventTradeCap}})
	a.Wait()
	assert.EqualValues(t, 1, n.calls.Load())
}

func TestTelegramNotifier(t *testing.T) {
	var gotPath, gotChat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseForm())
		gotChat = r.PostForm.Get("chat_id")
		if r.PostForm.Get("text") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("tok", "42").WithBaseURL(srv.URL + "/")
	require.NoError(t, n.SendAlert(context.Background(), LevelWarning, "hello"))
	assert.Equal(t, "/bottok/sendMessage", gotPath)
	assert.Equal(t, "42", gotChat)

	bad := NewTelegramNotifier("tok", "42").WithBaseURL(srv.URL + "/missing")
	srv.Config.Handler = http.NotFoundHandler()
	assert.Error(t, bad.SendAlert(context.Background(), LevelInfo, "x"))
}
