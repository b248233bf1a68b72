package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quadpoll/internal/domain"
)

type chanBus struct {
	chans map[string]chan []byte
}

func newChanBus(names ...string) *chanBus {
	b := &chanBus{chans: make(map[string]chan []byte)}
	for _, n := range names {
		b.chans[n] = make(chan []byte, 8)
	}
	return b
}

func (b *chanBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.chans[channel] <- payload
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.chans[channel], nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubRelaysBusEvents(t *testing.T) {
	bus := newChanBus(domain.ChannelPolls, domain.ChannelReputation)
	hub := NewHub(bus, slog.New(slog.NewJSONHandler(io.Discard, nil)), Config{Mode: "server"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readEnvelope(t, conn)
	assert.Equal(t, "hello", hello.Type)

	require.NoError(t, bus.Publish(ctx, domain.ChannelPolls, []byte(`{"kind":"vote_cast"}`)))
	ev := readEnvelope(t, conn)
	assert.Equal(t, "event", ev.Type)
	assert.Equal(t, domain.ChannelPolls, ev.Channel)
	assert.JSONEq(t, `{"kind":"vote_cast"}`, string(ev.Payload))
}

func TestClientSubscriptions(t *testing.T) {
	c := &client{subs: map[string]bool{domain.ChannelPolls: true}}
	assert.True(t, c.isSubscribed(domain.ChannelPolls))
	assert.False(t, c.isSubscribed(domain.ChannelReputation))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"rep*"}})
	assert.True(t, c.isSubscribed(domain.ChannelReputation))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelPolls}})
	assert.False(t, c.isSubscribed(domain.ChannelPolls))
}
