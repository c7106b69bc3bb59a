package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay_DoublesAndCaps(t *testing.T) {
	assert.Equal(t, 5*time.Second, backoffDelay(1))
	assert.Equal(t, 10*time.Second, backoffDelay(2))
	assert.Equal(t, 20*time.Second, backoffDelay(3))
	assert.Equal(t, 60*time.Second, backoffDelay(10))
}

func TestRun_RestartsChildAfterExit(t *testing.T) {
	var runs int32
	child := Child{
		Name: "test-child",
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return errors.New("boom")
		},
	}
	s := New([]Child{child}, nil, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not return after context timeout")
	}

	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(1))
}

func TestRunChildSafely_RecoversPanicAndInvokesEmergencyClose(t *testing.T) {
	var closed int32
	s := New(nil, func() { atomic.AddInt32(&closed, 1) }, zerolog.Nop())

	child := Child{Name: "panicky", Run: func(ctx context.Context) error {
		panic("something broke")
	}}

	err := s.runChildSafely(context.Background(), child)
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&closed))
}

func TestNextAttempt_ResetsAfterHealthyUptime(t *testing.T) {
	s := New(nil, nil, zerolog.Nop())

	assert.Equal(t, 1, s.nextAttempt("child", 0))
	assert.Equal(t, 2, s.nextAttempt("child", 0))
	assert.Equal(t, 1, s.nextAttempt("child", restartWindowResetAfter))
}
