// Package clusterbus is the cross-pod fanout for authoritative group
// snapshots (C3): every pod that mutates a group publishes its resulting
// snapshot on a single broadcast topic, and every pod (including the
// publisher) subscribes to that same topic so that C5's in-memory cache
// converges via the monotone-version merge in group.Manager.LoadSnapshot.
package clusterbus

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/snarg/listen-together/internal/group"
)

// snapshotTopic is the single broadcast topic every pod publishes to and
// subscribes on, matching spec §6's Persisted State Layout: "cluster bus
// channel listen-together:snapshots". The group id travels inside the
// payload, not the topic.
const snapshotTopic = "listen-together:snapshots"

// snapshotQoS is 1 (at-least-once), matching spec §4.3: "Delivery is
// best-effort at-least-once". The handler side (group.Manager.LoadSnapshot)
// is idempotent against the resulting duplicate deliveries.
const snapshotQoS = 1

// SnapshotHandler is invoked for every snapshot received over the bus,
// including ones this pod itself published — the caller is expected to
// merge through group.Manager.LoadSnapshot, which is already idempotent
// against replays of an equal-or-older version.
type SnapshotHandler func(snap group.Snapshot)

// Bus is a thin MQTT-backed broadcaster of group snapshots.
type Bus struct {
	conn    mqtt.Client
	log     zerolog.Logger
	enabled bool
}

// Options configures a Bus.
type Options struct {
	BrokerURL string
	ClientID  string
	Enabled   bool
	Log       zerolog.Logger
}

// Connect dials the broker and subscribes to the single snapshot topic,
// delivering decoded snapshots to handler. If opts.Enabled is false,
// Connect returns a Bus whose Publish is a no-op and that never calls
// handler — the pod falls back to serving only its own in-memory state,
// appropriate for single-pod deployments.
func Connect(opts Options, handler SnapshotHandler) (*Bus, error) {
	if !opts.Enabled {
		opts.Log.Info().Msg("cluster bus disabled, running single-pod (no cross-pod snapshot fanout)")
		return &Bus{log: opts.Log, enabled: false}, nil
	}

	b := &Bus{log: opts.Log, enabled: true}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(func(c mqtt.Client) {
			b.log.Info().Str("topic", snapshotTopic).Msg("cluster bus connected, subscribing")
			token := c.Subscribe(snapshotTopic, snapshotQoS, func(_ mqtt.Client, msg mqtt.Message) {
				b.deliver(msg.Payload(), handler)
			})
			token.Wait()
			if err := token.Error(); err != nil {
				b.log.Error().Err(err).Msg("cluster bus subscribe failed")
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.log.Warn().Err(err).Msg("cluster bus connection lost, will auto-reconnect")
		})

	b.conn = mqtt.NewClient(clientOpts)
	token := b.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("clusterbus: connect: %w", err)
	}
	return b, nil
}

func (b *Bus) deliver(payload []byte, handler SnapshotHandler) {
	var snap group.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		b.log.Warn().Err(err).Msg("cluster bus: dropping malformed snapshot")
		return
	}
	if snap.GroupID == "" {
		b.log.Warn().Msg("cluster bus: snapshot with empty group id, dropping")
		return
	}
	handler(snap)
}

// Publish broadcasts snap to every pod subscribed to the snapshot topic. A
// no-op when the bus is disabled. Publishes are sent at QoS 1
// (at-least-once, spec §4.3): the client library persists and retries
// in-flight publishes across reconnects, and the monotone-version merge on
// the receiving end makes the resulting duplicates harmless.
func (b *Bus) Publish(snap group.Snapshot) error {
	if !b.enabled {
		return nil
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("clusterbus: marshal snapshot for %s: %w", snap.GroupID, err)
	}
	token := b.conn.Publish(snapshotTopic, snapshotQoS, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			b.log.Warn().Str("groupId", snap.GroupID).Err(err).Msg("cluster bus publish failed")
		}
	}()
	return nil
}

// Close disconnects from the broker. Safe to call on a disabled bus.
func (b *Bus) Close() {
	if !b.enabled {
		return
	}
	b.log.Info().Msg("disconnecting cluster bus")
	b.conn.Disconnect(1000)
}
