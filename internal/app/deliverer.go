package app

import (
	"context"
	"fmt"

	"github.com/openclaw/core/internal/coreerr"
	"github.com/openclaw/core/internal/gateway"
	"github.com/openclaw/core/internal/heartbeat"
	"github.com/openclaw/core/internal/session"
)

// gatewayChannelName is the one Delivery.Channel value this core can honor
// itself: push the text to every connected operator connection as an event.
// Every other channel name (telegram, slack, ...) names a messaging adapter
// that spec.md places out of scope ("channel/messaging adapters ... are
// interfaces only") — Deliver reports not-found for those rather than
// silently dropping the message.
const gatewayChannelName = "gateway"

// gatewayDeliverer implements both cron.Deliverer and heartbeat.Deliverer by
// routing through the one concrete transport this core owns: the Gateway
// Router. Constructed with a nil router and patched in by app.New once the
// router exists (see app.go for why the cycle is broken this way).
type gatewayDeliverer struct {
	router *gateway.Router
}

// Deliver implements cron.Deliverer. channel is the cron job's resolved
// delivery target ("last" is pre-resolved by the scheduler to the session's
// LastDelivery.Channel before this is called).
func (d *gatewayDeliverer) Deliver(ctx context.Context, channel string, delivery session.Delivery, text string) error {
	return d.deliver(channel, delivery, text)
}

// DeliverHeartbeat implements heartbeat.Deliverer, whose Deliver signature
// omits the channel argument; the channel lives on delivery itself.
func (d *gatewayDeliverer) DeliverHeartbeat(ctx context.Context, delivery session.Delivery, text string) error {
	return d.deliver(delivery.Channel, delivery, text)
}

func (d *gatewayDeliverer) deliver(channel string, delivery session.Delivery, text string) error {
	if channel != gatewayChannelName {
		return fmt.Errorf("%w: no channel adapter registered for %q", coreerr.ErrNotFound, channel)
	}
	d.router.Broadcast("delivery", map[string]any{
		"channel":   channel,
		"recipient": delivery.Recipient,
		"account":   delivery.Account,
		"thread":    delivery.Thread,
		"text":      text,
	}, "operator")
	return nil
}

var _ heartbeat.Deliverer = deliverAdapter{}

// deliverAdapter narrows gatewayDeliverer to heartbeat.Deliverer's exact
// method name (Deliver, without a channel argument), since
// *gatewayDeliverer already uses that name for cron.Deliverer's shape.
type deliverAdapter struct {
	d *gatewayDeliverer
}

func (a deliverAdapter) Deliver(ctx context.Context, delivery session.Delivery, text string) error {
	return a.d.DeliverHeartbeat(ctx, delivery, text)
}
