package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"led-bridge/internal/mqtt"
	"led-bridge/internal/relay"
	"led-bridge/internal/topics"
)

type fakeCommander struct {
	status  string
	submits chan [2]string
	fail    bool
}

func newFakeCommander(status string) *fakeCommander {
	return &fakeCommander{status: status, submits: make(chan [2]string, 16)}
}

func (f *fakeCommander) Submit(channel, payload string) error {
	if f.fail {
		return errors.New("broker gone")
	}
	f.submits <- [2]string{channel, payload}
	return nil
}

func (f *fakeCommander) OnSessionJoin(push func(channel, payload string)) {
	push(topics.Status, f.status)
}

func newTestHub(t *testing.T, cmd Commander) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(cmd)
	ts := httptest.NewServer(hub)
	t.Cleanup(ts.Close)
	return hub, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) (string, ControlData) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read ws: %v", err)
	}
	var data ControlData
	if env.Type == typeMQTT {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("unmarshal mqtt data: %v", err)
		}
	}
	return env.Type, data
}

func TestJoinReceivesCachedStatusFirst(t *testing.T) {
	_, ts := newTestHub(t, newFakeCommander("heartbeat OK"))
	conn := dial(t, ts)

	typ, data := readEvent(t, conn)
	if typ != typeMQTT {
		t.Fatalf("first event type: got %q want %q", typ, typeMQTT)
	}
	if data.Channel != topics.Status || data.Payload != "heartbeat OK" {
		t.Fatalf("join push: got %+v", data)
	}
}

func TestBroadcastReachesAllSessionsInOrder(t *testing.T) {
	hub, ts := newTestHub(t, newFakeCommander("boot"))
	conns := []*websocket.Conn{dial(t, ts), dial(t, ts)}
	for _, c := range conns {
		readEvent(t, c) // join push; also guarantees registration
	}

	events := [][2]string{
		{topics.Control(topics.ParamPower), "on"},
		{topics.Status, "power_on OK"},
		{topics.Control(topics.ParamColor), "255,0,255"},
	}
	for _, ev := range events {
		hub.Broadcast(ev[0], ev[1])
	}

	for _, c := range conns {
		for i, ev := range events {
			typ, data := readEvent(t, c)
			if typ != typeMQTT {
				t.Fatalf("event %d type: got %q", i, typ)
			}
			if data.Channel != ev[0] || data.Payload != ev[1] {
				t.Fatalf("event %d: got %+v want %v", i, data, ev)
			}
		}
	}
}

func TestControlDispatchedToRelay(t *testing.T) {
	cmd := newFakeCommander("boot")
	_, ts := newTestHub(t, cmd)
	conn := dial(t, ts)
	readEvent(t, conn)

	msg := `{"type":"control","data":{"channel":"led/control/power","payload":"on"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-cmd.submits:
		if got != [2]string{"led/control/power", "on"} {
			t.Fatalf("unexpected submit: %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("control message never reached the relay")
	}
}

func TestMusicSyncFormattedAndSubmitted(t *testing.T) {
	cmd := newFakeCommander("boot")
	_, ts := newTestHub(t, cmd)
	conn := dial(t, ts)
	readEvent(t, conn)

	msg := `{"type":"music_sync","data":{"bass":12,"mid":30,"treble":200}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-cmd.submits:
		if got != [2]string{topics.MusicData, "12,30,200"} {
			t.Fatalf("unexpected submit: %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sync sample never reached the relay")
	}
}

func TestMusicSyncRejectedWholesale(t *testing.T) {
	cmd := newFakeCommander("boot")
	_, ts := newTestHub(t, cmd)
	conn := dial(t, ts)
	readEvent(t, conn)

	bad := []string{
		`{"type":"music_sync","data":{"bass":"12.7","mid":30,"treble":200}}`,
		`{"type":"music_sync","data":{"bass":12,"mid":-3,"treble":200}}`,
		`{"type":"music_sync","data":{"bass":12,"mid":30,"treble":300}}`,
		`{"type":"music_sync","data":{"bass":12,"mid":30}}`,
	}
	for _, msg := range bad {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	// A valid sample afterwards proves the bad ones were dropped, not queued.
	good := `{"type":"music_sync","data":{"bass":1,"mid":2,"treble":3}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(good)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-cmd.submits:
		if got != [2]string{topics.MusicData, "1,2,3"} {
			t.Fatalf("invalid sample slipped through: %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid sample never arrived")
	}
}

func TestSubmitFailureEmitsSessionError(t *testing.T) {
	cmd := newFakeCommander("boot")
	cmd.fail = true
	_, ts := newTestHub(t, cmd)
	conn := dial(t, ts)
	readEvent(t, conn)

	msg := `{"type":"control","data":{"channel":"led/control/power","payload":"on"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}

	typ, _ := readEvent(t, conn)
	if typ != typeError {
		t.Fatalf("expected error event, got %q", typ)
	}
}

// echoUpstream simulates the actuator network: every publish is echoed back
// through the relay as if the controller had repeated it.
type echoUpstream struct {
	mu  sync.Mutex
	rly *relay.Relay
}

func (e *echoUpstream) Subscribe(string, mqtt.MessageFunc) error { return nil }

func (e *echoUpstream) Publish(topic string, payload []byte) error {
	e.mu.Lock()
	rly := e.rly
	e.mu.Unlock()
	go rly.HandleUpstream(topic, string(payload))
	return nil
}

func (e *echoUpstream) IsConnected() bool { return true }

func TestEndToEndControlEcho(t *testing.T) {
	up := &echoUpstream{}
	cache := relay.NewStateCache()
	hub := NewHub(nil)
	rly := relay.New(up, cache, hub)
	hub.SetCommander(rly)
	up.mu.Lock()
	up.rly = rly
	up.mu.Unlock()

	ts := httptest.NewServer(hub)
	defer ts.Close()

	first := dial(t, ts)
	second := dial(t, ts)
	readEvent(t, first)
	readEvent(t, second)

	msg := `{"type":"control","data":{"channel":"led/control/power","payload":"on"}}`
	if err := first.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, conn := range []*websocket.Conn{first, second} {
		typ, data := readEvent(t, conn)
		if typ != typeMQTT || data.Channel != "led/control/power" || data.Payload != "on" {
			t.Fatalf("echo not observed: type=%q data=%+v", typ, data)
		}
	}

	// A session joining after the exchange still sees the event when the
	// controller repeats it, and gets the cached status on join.
	late := dial(t, ts)
	typ, data := readEvent(t, late)
	if typ != typeMQTT || data.Channel != topics.Status {
		t.Fatalf("late joiner first event: type=%q data=%+v", typ, data)
	}
	if err := second.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
	typ, data = readEvent(t, late)
	if typ != typeMQTT || data.Channel != "led/control/power" || data.Payload != "on" {
		t.Fatalf("late joiner missed echo: type=%q data=%+v", typ, data)
	}
}

var _ http.Handler = (*Hub)(nil)
