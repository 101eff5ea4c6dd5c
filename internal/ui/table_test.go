package ui

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BioHazard786/Tandem/internal/matchmaking"
	"github.com/BioHazard786/Tandem/internal/signaling"
)

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		-time.Second:                              "00:00",
		0:                                         "00:00",
		59 * time.Second:                          "00:59",
		61*time.Second + 900*time.Millisecond:     "01:01",
		time.Hour + 2*time.Minute + 3*time.Second: "1:02:03",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatDuration(in), in.String())
	}
}

func TestStatsView(t *testing.T) {
	stats := signaling.Stats{Online: 7, Stats: matchmaking.Stats{Waiting: 1, ActiveRooms: 3, EndedRooms: 12}}

	var buf bytes.Buffer
	RenderStats(&buf, "tandem.example", stats)
	out := buf.String()
	assert.Contains(t, out, "tandem.example")
	assert.Contains(t, out, "Online users")
	assert.Contains(t, out, "7")
	assert.Contains(t, out, "12")
}

func TestRoomView(t *testing.T) {
	room := matchmaking.Room{ID: "calm-heron-7", PeerA: "bob", PeerB: "alice", Active: true}

	assert.Contains(t, RoomView(room, "bob"), "calling")
	view := RoomView(room, "alice")
	assert.Contains(t, view, "answering")
	assert.Contains(t, view, "calm-heron-7")
	assert.Contains(t, view, "bob")
}

func TestCallSummaryView(t *testing.T) {
	out := CallSummaryView(CallSummary{RoomID: "r1", Peer: "bob", Status: "ended", Duration: 90 * time.Second, Messages: 4})
	assert.Contains(t, out, "01:30")
	assert.Contains(t, out, "bob")
}
