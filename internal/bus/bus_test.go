package bus

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPublishSync_DeliversToAllSubscribers(t *testing.T) {
	b := New(zerolog.Nop())
	var received []string
	b.Subscribe(TradeExecuted, func(ev Event) {
		received = append(received, ev.Data["symbol"].(string))
	})
	b.Subscribe(TradeExecuted, func(ev Event) {
		received = append(received, "second")
	})

	b.PublishSync(TradeExecuted, "execution-engine", map[string]interface{}{"symbol": "BTC-YES"})
	assert.ElementsMatch(t, []string{"BTC-YES", "second"}, received)
}

func TestPublish_DoesNotDeliverToOtherChannels(t *testing.T) {
	b := New(zerolog.Nop())
	called := false
	b.Subscribe(EmergencyStop, func(ev Event) { called = false })
	b.Subscribe(TradeExecuted, func(ev Event) { called = true })

	b.PublishSync(TradeExecuted, "x", nil)
	assert.True(t, called)
}

func TestPublish_IsAsyncAndPanicSafe(t *testing.T) {
	b := New(zerolog.Nop())
	var wg sync.WaitGroup
	wg.Add(1)
	b.Subscribe(ErrorChannel, func(ev Event) {
		defer wg.Done()
		panic("listener blew up")
	})
	b.Publish(ErrorChannel, "x", nil)
	wg.Wait()
}
