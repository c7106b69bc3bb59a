// Package bus is the message bus collaborator interface of spec §4.R6: a
// set of named channels consumers subscribe to. It generalizes the
// teacher's internal/events package (events.Bus/events.Manager) from a
// portfolio-specific event set to the channel names in spec §6.
package bus

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// Channel names the message bus channels from spec §6.
type Channel string

const (
	NewsClustered     Channel = "NEWS_CLUSTERED"
	NewsAnomaly       Channel = "NEWS_ANOMALY"
	NewsPrediction    Channel = "NEWS_PREDICTION"
	NewsHotClusters   Channel = "NEWS_HOT_CLUSTERS"
	TradeExecuted     Channel = "TRADE_EXECUTED"
	StopLossTriggered Channel = "STOP_LOSS_TRIGGERED"
	EmergencyStop     Channel = "EMERGENCY_STOP"
	DailyPnL          Channel = "DAILY_PNL"
	ErrorChannel      Channel = "ERROR"
	InfoChannel       Channel = "INFO"
)

// Event is one message published to a channel. Payloads are plain records;
// consumers must treat unknown fields as forward-compatible, so Data is
// kept as a map rather than a closed struct.
type Event struct {
	Channel Channel
	Source  string
	Data    map[string]interface{}
}

// Listener receives events published to a subscribed channel.
type Listener func(ev Event)

// Bus is a simple in-process pub/sub, subscribed to by name and fanned out
// asynchronously (each listener runs on its own goroutine so one slow
// subscriber cannot block publication to others or the publisher).
type Bus struct {
	mu        sync.RWMutex
	listeners map[Channel][]Listener
	log       zerolog.Logger
}

// New builds an empty bus.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		listeners: make(map[Channel][]Listener),
		log:       log.With().Str("component", "message_bus").Logger(),
	}
}

// Subscribe registers a listener for a channel.
func (b *Bus) Subscribe(ch Channel, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[ch] = append(b.listeners[ch], l)
}

// Publish emits an event to every listener subscribed to ch. Listeners run
// concurrently; Publish does not wait for them to finish.
func (b *Bus) Publish(ch Channel, source string, data map[string]interface{}) {
	ev := Event{Channel: ch, Source: source, Data: data}

	b.mu.RLock()
	listeners := append([]Listener(nil), b.listeners[ch]...)
	b.mu.RUnlock()

	payload, _ := json.Marshal(data)
	b.log.Info().Str("channel", string(ch)).Str("source", source).RawJSON("data", payload).Msg("event published")

	for _, l := range listeners {
		go func(l Listener) {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error().Interface("panic", r).Str("channel", string(ch)).Msg("bus listener panicked")
				}
			}()
			l(ev)
		}(l)
	}
}

// PublishSync is like Publish but runs every listener on the calling
// goroutine, in subscription order. Used by tests and by callers that need
// delivery to have completed before Publish returns.
func (b *Bus) PublishSync(ch Channel, source string, data map[string]interface{}) {
	ev := Event{Channel: ch, Source: source, Data: data}
	b.mu.RLock()
	listeners := append([]Listener(nil), b.listeners[ch]...)
	b.mu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}
