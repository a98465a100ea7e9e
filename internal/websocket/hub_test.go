package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adscript/api/internal/model"
)

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.Send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestHub_BroadcastsToProjectSubscribers(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	mine := &Client{ProjectID: 1, Send: make(chan []byte, 4)}
	other := &Client{ProjectID: 2, Send: make(chan []byte, 4)}
	hub.Register(mine)
	hub.Register(other)

	require.Eventually(t, func() bool {
		return hub.Subscribers(1) == 1 && hub.Subscribers(2) == 1
	}, time.Second, 10*time.Millisecond)

	hub.BroadcastImage(1, "job-1", 3, model.ImageStatusCompleted, "u/1/img.png")

	var msg model.WSImageMessage
	require.NoError(t, json.Unmarshal(receive(t, mine), &msg))
	assert.Equal(t, model.WSMessageTypeImage, msg.Type)
	assert.Equal(t, 3, msg.BlockIndex)
	assert.Equal(t, model.ImageStatusCompleted, msg.Status)

	select {
	case <-other.Send:
		t.Fatal("subscriber of another project received the message")
	case <-time.After(50 * time.Millisecond):
	}

	hub.Unregister(mine)
	require.Eventually(t, func() bool {
		return hub.Subscribers(1) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestParseProjectID(t *testing.T) {
	id, ok := ParseProjectID("42")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	_, ok = ParseProjectID("0")
	assert.False(t, ok)
	_, ok = ParseProjectID("abc")
	assert.False(t, ok)
}
