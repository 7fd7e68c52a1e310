package mqtt

import (
	"crypto/tls"
	"log/slog"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MessageFunc receives one inbound message. Handlers run on the paho router
// goroutine in arrival order and must not block.
type MessageFunc func(topic string, payload []byte)

// ClientAPI is the minimal surface the relay and HTTP handlers need.
// It enables unit testing without a live broker.
type ClientAPI interface {
	Subscribe(topic string, cb MessageFunc) error
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// Client wraps the paho client. All publishes are QoS 0, no retain: the
// actuator channel is fire-and-forget by design. Connect failures are handled
// by paho's retry/auto-reconnect machinery; the process never goes down with
// the broker.
type Client struct {
	cli mqtt.Client

	mu   sync.Mutex
	subs map[string]MessageFunc
}

func New(brokerURL, clientID string) (*Client, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, err
	}
	opts := mqtt.NewClientOptions()
	server := u.Host
	if u.Scheme == "mqtt" || u.Scheme == "tcp" {
		server = "tcp://" + server
	} else if u.Scheme == "ssl" || u.Scheme == "tls" {
		server = "ssl://" + server
	} else if u.Scheme == "ws" || u.Scheme == "wss" {
		server = u.Scheme + "://" + server + u.Path
	}
	opts.AddBroker(server)
	opts.SetClientID(clientID + "-" + time.Now().Format("150405.000"))
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetAutoReconnect(true)
	if u.User != nil {
		pw, _ := u.User.Password()
		opts.SetUsername(u.User.Username())
		opts.SetPassword(pw)
	}
	if u.Scheme == "ssl" || u.Scheme == "tls" || u.Scheme == "wss" {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true}) // TODO: tighten
	}

	c := &Client{subs: map[string]MessageFunc{}}
	opts.OnConnect = func(cli mqtt.Client) {
		slog.Info("mqtt connected", "broker", brokerURL)
		c.replaySubscriptions(cli)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Error("mqtt connection lost", "error", err)
	}
	c.cli = mqtt.NewClient(opts)
	// ConnectRetry keeps trying in the background; don't block startup on the
	// broker being up.
	c.cli.Connect()
	return c, nil
}

// Subscribe registers the handler and subscribes once connected. The handler
// survives reconnects: every OnConnect replays the registered set.
func (c *Client) Subscribe(topic string, cb MessageFunc) error {
	c.mu.Lock()
	c.subs[topic] = cb
	c.mu.Unlock()
	if !c.cli.IsConnected() {
		return nil
	}
	t := c.cli.Subscribe(topic, 0, adapt(cb))
	if t.Wait() && t.Error() != nil {
		return t.Error()
	}
	slog.Info("mqtt subscribed", "topic", topic)
	return nil
}

func (c *Client) Publish(topic string, payload []byte) error {
	t := c.cli.Publish(topic, 0, false, payload)
	if t.Wait() && t.Error() != nil {
		return t.Error()
	}
	return nil
}

func (c *Client) IsConnected() bool {
	return c.cli.IsConnected()
}

func (c *Client) Close() {
	c.cli.Disconnect(250)
}

func (c *Client) replaySubscriptions(cli mqtt.Client) {
	c.mu.Lock()
	subs := make(map[string]MessageFunc, len(c.subs))
	for topic, cb := range c.subs {
		subs[topic] = cb
	}
	c.mu.Unlock()
	for topic, cb := range subs {
		if t := cli.Subscribe(topic, 0, adapt(cb)); t.Wait() && t.Error() != nil {
			slog.Error("mqtt resubscribe failed", "topic", topic, "error", t.Error())
			continue
		}
		slog.Info("mqtt subscribed", "topic", topic)
	}
}

func adapt(cb MessageFunc) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		cb(msg.Topic(), msg.Payload())
	}
}
