// Package relay bridges websocket sessions to the actuator pub/sub network.
// It is the only holder of the upstream connection: client commands fan in
// through Submit, everything the controller publishes fans out to every
// connected session in receipt order.
package relay

import (
	"log/slog"

	"led-bridge/internal/mqtt"
	"led-bridge/internal/topics"
)

// Broadcaster fans one telemetry event out to every connected session.
type Broadcaster interface {
	Broadcast(channel, payload string)
}

type Relay struct {
	upstream mqtt.ClientAPI
	cache    *StateCache
	bc       Broadcaster
}

func New(upstream mqtt.ClientAPI, cache *StateCache, bc Broadcaster) *Relay {
	return &Relay{upstream: upstream, cache: cache, bc: bc}
}

// ConnectUpstream subscribes the fixed pattern set. Reconnect/replay is the
// transport's job; a subscribe error here only means the broker is not up
// yet, which the client resolves on connect.
func (r *Relay) ConnectUpstream() {
	for _, pattern := range topics.Subscriptions {
		err := r.upstream.Subscribe(pattern, func(topic string, payload []byte) {
			r.HandleUpstream(topic, string(payload))
		})
		if err != nil {
			slog.Warn("upstream subscribe deferred", "pattern", pattern, "error", err)
		}
	}
}

// HandleUpstream processes one inbound message: status payloads update the
// cache, everything is rebroadcast unconditionally and undeduplicated.
func (r *Relay) HandleUpstream(channel, payload string) {
	if channel == topics.Status {
		r.cache.Set(payload)
	}
	r.bc.Broadcast(channel, payload)
	slog.Debug("upstream message", "channel", channel, "payload", payload)
}

// Submit forwards one client command upstream, fire-and-forget. An empty
// channel or payload is dropped with a logged rejection and no error: the
// base protocol gives the submitter nothing to act on. A publish failure is
// returned so the session layer can emit a soft error event to the one
// session that submitted.
func (r *Relay) Submit(channel, payload string) error {
	if channel == "" || payload == "" {
		slog.Warn("rejected control message", "channel", channel, "payload", payload)
		return nil
	}
	if err := r.upstream.Publish(channel, []byte(payload)); err != nil {
		slog.Error("upstream publish failed", "channel", channel, "error", err)
		return err
	}
	slog.Debug("forwarded control message", "channel", channel, "payload", payload)
	return nil
}

// OnSessionJoin pushes the cached status to a newly connected session so a
// late joiner sees controller state without waiting for the next heartbeat.
func (r *Relay) OnSessionJoin(push func(channel, payload string)) {
	push(topics.Status, r.cache.Get())
}

// StatusConnected reports upstream connectivity for health reporting.
func (r *Relay) StatusConnected() bool {
	return r.upstream.IsConnected()
}
