package collaborators

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/aristath/sentinel/internal/bus"
)

// SlackNotifier is the alerting transport collaborator of spec §1
// ("alerting transports (chat webhooks...)"): it subscribes to the bus
// channels that matter operationally and posts one message per event to
// a configured Slack channel.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	log     zerolog.Logger
}

// NewSlackNotifier builds a notifier. token is a Slack bot token
// (xoxb-...); channel is the channel ID or name to post to.
func NewSlackNotifier(token, channel string, log zerolog.Logger) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(token),
		channel: channel,
		log:     log.With().Str("component", "slack_notifier").Logger(),
	}
}

// Subscribe registers this notifier against the alert-worthy channels on
// eventBus: emergency stops, stop-loss triggers, and errors.
func (n *SlackNotifier) Subscribe(eventBus *bus.Bus) {
	eventBus.Subscribe(bus.EmergencyStop, n.notify("emergency stop"))
	eventBus.Subscribe(bus.StopLossTriggered, n.notify("stop-loss triggered"))
	eventBus.Subscribe(bus.ErrorChannel, n.notify("error"))
}

func (n *SlackNotifier) notify(label string) bus.Listener {
	return func(ev bus.Event) {
		text := fmt.Sprintf("*%s* (%s): %v", label, ev.Source, ev.Data)
		if _, _, err := n.client.PostMessage(n.channel, slack.MsgOptionText(text, false)); err != nil {
			n.log.Warn().Err(err).Str("event_channel", string(ev.Channel)).Msg("failed to post slack alert")
		}
	}
}
