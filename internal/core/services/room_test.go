package services

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutti/internal/core/domain"
)

func testRoomConfig() RoomConfig {
	cfg := DefaultRoomConfig()
	cfg.MaxParticipants = 4
	return cfg
}

func makePacketBytes(value int16, seq uint32) []byte {
	var pkt domain.AudioPacket
	pkt.Sequence = seq
	pkt.Timestamp = seq * domain.SamplesPerFrame
	for i := range pkt.Samples {
		pkt.Samples[i] = value
	}
	buf := make([]byte, domain.AudioPacketSize)
	pkt.Serialize(buf)
	return buf
}

func decodeMessages(t *testing.T, raw []string) []map[string]interface{} {
	t.Helper()
	out := make([]map[string]interface{}, 0, len(raw))
	for _, m := range raw {
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(m), &decoded))
		out = append(out, decoded)
	}
	return out
}

func findMessage(msgs []map[string]interface{}, msgType string) map[string]interface{} {
	for _, m := range msgs {
		if m["type"] == msgType {
			return m
		}
	}
	return nil
}

func TestRoomAddParticipantBroadcasts(t *testing.T) {
	room := NewRoom("Allegro", testRoomConfig(), nil, nil)

	alice := newFakeSession("s-alice")
	require.True(t, room.AddParticipant("alice", "Alice", alice))

	// Newcomer gets room_state with themselves in it.
	msgs := decodeMessages(t, alice.sentReliable())
	state := findMessage(msgs, "room_state")
	require.NotNil(t, state)
	assert.Len(t, state["participants"], 1)

	bob := newFakeSession("s-bob")
	require.True(t, room.AddParticipant("bob", "Bob", bob))

	// Alice is told about Bob.
	msgs = decodeMessages(t, alice.sentReliable())
	joined := findMessage(msgs, "participant_joined")
	require.NotNil(t, joined)
	assert.Equal(t, "bob", joined["id"])
	assert.Equal(t, "Bob", joined["name"])

	// Bob's room_state lists both.
	msgs = decodeMessages(t, bob.sentReliable())
	state = findMessage(msgs, "room_state")
	require.NotNil(t, state)
	assert.Len(t, state["participants"], 2)
}

func TestRoomAddParticipantCapacity(t *testing.T) {
	cfg := testRoomConfig()
	cfg.MaxParticipants = 2
	room := NewRoom("Ballata", cfg, nil, nil)

	require.True(t, room.AddParticipant("a", "A", nil))
	require.True(t, room.AddParticipant("b", "B", nil))
	assert.False(t, room.AddParticipant("c", "C", nil))
	assert.Equal(t, 2, room.ParticipantCount())
}

func TestRoomAddParticipantDuplicate(t *testing.T) {
	room := NewRoom("Cantabile", testRoomConfig(), nil, nil)
	require.True(t, room.AddParticipant("a", "A", nil))
	assert.False(t, room.AddParticipant("a", "A again", nil))
	assert.Equal(t, 1, room.ParticipantCount())
}

func TestRoomAttachSessionSendsRoomState(t *testing.T) {
	room := NewRoom("Dolce", testRoomConfig(), nil, nil)
	require.True(t, room.AddParticipant("a", "A", nil))

	session := newFakeSession("s-a")
	require.True(t, room.AttachSession("a", session))

	msgs := decodeMessages(t, session.sentReliable())
	require.NotNil(t, findMessage(msgs, "room_state"))
}

func TestRoomAttachSessionUnknownParticipant(t *testing.T) {
	room := NewRoom("Espressivo", testRoomConfig(), nil, nil)
	assert.False(t, room.AttachSession("ghost", newFakeSession("s")))
}

func TestRoomRemoveParticipantBroadcastsAndClearsPassword(t *testing.T) {
	room := NewRoom("Fortepiano", testRoomConfig(), nil, nil)

	alice := newFakeSession("s-alice")
	require.True(t, room.AddParticipant("alice", "Alice", alice))
	require.True(t, room.AddParticipant("bob", "Bob", newFakeSession("s-bob")))
	room.Claim("secret")
	require.Equal(t, domain.RoomStatusClaimed, room.Status())

	room.RemoveParticipant("bob")
	msgs := decodeMessages(t, alice.sentReliable())
	left := findMessage(msgs, "participant_left")
	require.NotNil(t, left)
	assert.Equal(t, "bob", left["id"])

	// Still claimed while occupied, open once empty.
	assert.Equal(t, domain.RoomStatusClaimed, room.Status())
	room.RemoveParticipant("alice")
	assert.Equal(t, domain.RoomStatusOpen, room.Status())
}

func TestRoomStatusPrecedence(t *testing.T) {
	cfg := testRoomConfig()
	cfg.MaxParticipants = 1
	room := NewRoom("Giocoso", cfg, nil, nil)

	assert.Equal(t, domain.RoomStatusOpen, room.Status())
	room.Claim("pw")
	assert.Equal(t, domain.RoomStatusClaimed, room.Status())
	require.True(t, room.AddParticipant("a", "A", nil))
	assert.Equal(t, domain.RoomStatusFull, room.Status())
}

func TestRoomPassword(t *testing.T) {
	room := NewRoom("Harmonics", testRoomConfig(), nil, nil)
	assert.True(t, room.CheckPassword("anything")) // open room

	room.Claim("secret")
	assert.True(t, room.CheckPassword("secret"))
	assert.False(t, room.CheckPassword("wrong"))

	room.ClearPassword()
	assert.True(t, room.CheckPassword(""))
}

func TestRoomFastPathForwardsVerbatim(t *testing.T) {
	room := NewRoom("Intermezzo", testRoomConfig(), nil, nil)
	alice := newFakeSession("s-alice")
	bob := newFakeSession("s-bob")
	require.True(t, room.AddParticipant("alice", "Alice", alice))
	require.True(t, room.AddParticipant("bob", "Bob", bob))

	in := makePacketBytes(5000, 17)
	room.OnAudioReceived("alice", in)

	datagrams := bob.sentDatagrams()
	require.Len(t, datagrams, 1)
	out := datagrams[0]
	require.Len(t, out, domain.AudioPacketSize)

	// Sequence is restamped per listener, starting at zero; the rest of
	// the packet is byte-identical to what alice sent.
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(out[0:4]))
	assert.Equal(t, in[4:], out[4:])

	// Nothing came back toward alice.
	assert.Empty(t, alice.sentDatagrams())
}

func TestRoomFastPathSequenceIncrements(t *testing.T) {
	room := NewRoom("Jubiloso", testRoomConfig(), nil, nil)
	bob := newFakeSession("s-bob")
	require.True(t, room.AddParticipant("alice", "Alice", newFakeSession("s-alice")))
	require.True(t, room.AddParticipant("bob", "Bob", bob))

	for i := 0; i < 5; i++ {
		room.OnAudioReceived("alice", makePacketBytes(100, uint32(i+50)))
	}

	datagrams := bob.sentDatagrams()
	require.Len(t, datagrams, 5)
	for i, d := range datagrams {
		assert.Equal(t, uint32(i), binary.LittleEndian.Uint32(d[0:4]))
	}
}

func TestRoomFastPathAppliesGain(t *testing.T) {
	room := NewRoom("Kaprizios", testRoomConfig(), nil, nil)
	bob := newFakeSession("s-bob")
	require.True(t, room.AddParticipant("alice", "Alice", newFakeSession("s-alice")))
	require.True(t, room.AddParticipant("bob", "Bob", bob))

	room.SetGain("bob", "alice", 0.5)
	room.OnAudioReceived("alice", makePacketBytes(10000, 1))

	datagrams := bob.sentDatagrams()
	require.Len(t, datagrams, 1)
	pkt := domain.DeserializeAudioPacket(datagrams[0])
	for _, s := range pkt.Samples {
		assert.Equal(t, int16(5000), s)
	}
}

func TestRoomFastPathScalesNegativeSamples(t *testing.T) {
	room := NewRoom("Legato", testRoomConfig(), nil, nil)
	bob := newFakeSession("s-bob")
	require.True(t, room.AddParticipant("alice", "Alice", newFakeSession("s-alice")))
	require.True(t, room.AddParticipant("bob", "Bob", bob))

	// Any gain below unity leaves the verbatim branch.
	room.SetGain("bob", "alice", 0.75)
	room.OnAudioReceived("alice", makePacketBytes(math.MinInt16, 1))

	datagrams := bob.sentDatagrams()
	require.Len(t, datagrams, 1)
	pkt := domain.DeserializeAudioPacket(datagrams[0])
	for _, s := range pkt.Samples {
		assert.Equal(t, int16(-24576), s)
	}
}

func TestRoomFastPathMuteDropsSilently(t *testing.T) {
	room := NewRoom("Maestoso", testRoomConfig(), nil, nil)
	bob := newFakeSession("s-bob")
	require.True(t, room.AddParticipant("alice", "Alice", newFakeSession("s-alice")))
	require.True(t, room.AddParticipant("bob", "Bob", bob))

	room.SetMute("bob", "alice", true)
	room.OnAudioReceived("alice", makePacketBytes(10000, 1))
	assert.Empty(t, bob.sentDatagrams())

	room.SetMute("bob", "alice", false)
	room.OnAudioReceived("alice", makePacketBytes(10000, 2))
	assert.Len(t, bob.sentDatagrams(), 1)
}

func TestRoomRejectsShortPackets(t *testing.T) {
	room := NewRoom("Notturno", testRoomConfig(), nil, nil)
	bob := newFakeSession("s-bob")
	require.True(t, room.AddParticipant("alice", "Alice", newFakeSession("s-alice")))
	require.True(t, room.AddParticipant("bob", "Bob", bob))

	room.OnAudioReceived("alice", make([]byte, domain.AudioPacketSize-1))
	assert.Empty(t, bob.sentDatagrams())
}

func TestRoomMixLoopDeliversMixedAudio(t *testing.T) {
	room := NewRoom("Ostinato", testRoomConfig(), nil, nil)

	sessions := map[string]*fakeSession{
		"alice": newFakeSession("s-alice"),
		"bob":   newFakeSession("s-bob"),
		"carol": newFakeSession("s-carol"),
	}
	values := map[string]int16{"alice": 1000, "bob": 2000, "carol": 3000}
	for id, s := range sessions {
		require.True(t, room.AddParticipant(id, id, s))
	}

	// Three participants, so audio goes through the mixer rings and the
	// mix loop, not the fast path. Frames are queued before the loop
	// starts so the first cycle sees the full set.
	for id, v := range values {
		room.OnAudioReceived(id, makePacketBytes(v, 1))
	}
	room.Start()
	defer room.Stop()

	expect := map[string]int16{"alice": 5000, "bob": 4000, "carol": 3000}
	deadline := time.Now().Add(2 * time.Second)
	for id, want := range expect {
		var got [][]byte
		for time.Now().Before(deadline) {
			got = sessions[id].sentDatagrams()
			if len(got) > 0 {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		require.NotEmpty(t, got, "no mixed output for %s", id)
		pkt := domain.DeserializeAudioPacket(got[0])
		assert.Equal(t, uint32(0), pkt.Sequence)
		for _, s := range pkt.Samples {
			require.Equal(t, want, s, "mixed sample for %s", id)
		}
	}
}

func TestRoomStartStopIdempotent(t *testing.T) {
	room := NewRoom("Pizzicato", testRoomConfig(), nil, nil)
	room.Start()
	room.Start()
	room.Stop()
	room.Stop()
}

func TestRoomReapUnboundParticipant(t *testing.T) {
	cfg := testRoomConfig()
	cfg.UnboundTimeout = 10 * time.Millisecond
	room := NewRoom("Allegro", cfg, nil, nil)

	require.True(t, room.AddParticipant("a", "A", nil))
	assert.Equal(t, 0, room.ReapStaleParticipants())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, room.ReapStaleParticipants())
	assert.Equal(t, 0, room.ParticipantCount())
}

func TestRoomReapSoloParticipantExempt(t *testing.T) {
	cfg := testRoomConfig()
	cfg.InactivityTimeout = 10 * time.Millisecond
	room := NewRoom("Ballata", cfg, nil, nil)

	// Bound and alone: never reaped for inactivity.
	require.True(t, room.AddParticipant("a", "A", newFakeSession("s-a")))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, room.ReapStaleParticipants())
	assert.Equal(t, 1, room.ParticipantCount())
}

func TestRoomReapInactiveParticipants(t *testing.T) {
	cfg := testRoomConfig()
	cfg.InactivityTimeout = 20 * time.Millisecond
	room := NewRoom("Cantabile", cfg, nil, nil)

	require.True(t, room.AddParticipant("a", "A", newFakeSession("s-a")))
	require.True(t, room.AddParticipant("b", "B", newFakeSession("s-b")))

	// Audio keeps both alive in one sweep...
	room.OnAudioReceived("a", makePacketBytes(1, 1))
	assert.Equal(t, 0, room.ReapStaleParticipants())

	// ...then silence evicts both: a past its last received audio, b past
	// the fast-path forward it was last sent.
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 2, room.ReapStaleParticipants())
	assert.Equal(t, 0, room.ParticipantCount())
}

func TestRoomRequestVacateBroadcasts(t *testing.T) {
	room := NewRoom("Dolce", testRoomConfig(), nil, nil)
	alice := newFakeSession("s-alice")
	bob := newFakeSession("s-bob")
	require.True(t, room.AddParticipant("alice", "Alice", alice))
	require.True(t, room.AddParticipant("bob", "Bob", bob))

	room.RequestVacate()

	for _, s := range []*fakeSession{alice, bob} {
		msgs := decodeMessages(t, s.sentReliable())
		require.NotNil(t, findMessage(msgs, "vacate_request"))
	}
}

func TestRoomTelemetryRecordsJoinLeaveAndForwards(t *testing.T) {
	telemetry := &fakeTelemetry{}
	room := NewRoom("Fortepiano", testRoomConfig(), telemetry, nil)

	require.True(t, room.AddParticipant("alice", "Alice", newFakeSession("s-alice")))
	require.True(t, room.AddParticipant("bob", "Bob", newFakeSession("s-bob")))
	// A rejected admission is not a join.
	assert.False(t, room.AddParticipant("alice", "Alice again", nil))

	room.OnAudioReceived("alice", makePacketBytes(100, 1))

	room.RemoveParticipant("bob")
	room.RemoveParticipant("bob") // no-op, not a leave

	counts := telemetry.snapshot()
	assert.Equal(t, 2, counts.joins)
	assert.Equal(t, 1, counts.leaves)
	assert.Equal(t, 1, counts.audioReceived)
	assert.Equal(t, 1, counts.fastPathForwards)
	assert.Equal(t, 1, counts.audioSent)
}

// Reaped participants leave through the same path as a voluntary leave,
// so occupancy telemetry stays balanced.
func TestRoomTelemetryRecordsReapedLeaves(t *testing.T) {
	telemetry := &fakeTelemetry{}
	cfg := testRoomConfig()
	cfg.UnboundTimeout = 10 * time.Millisecond
	room := NewRoom("Giocoso", cfg, telemetry, nil)

	require.True(t, room.AddParticipant("ghost", "Ghost", nil))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, room.ReapStaleParticipants())

	counts := telemetry.snapshot()
	assert.Equal(t, 1, counts.joins)
	assert.Equal(t, 1, counts.leaves)
}

func TestRoomParticipants(t *testing.T) {
	room := NewRoom("Espressivo", testRoomConfig(), nil, nil)
	require.True(t, room.AddParticipant("a", "Anna", nil))
	require.True(t, room.AddParticipant("b", "Ben", nil))

	infos := room.Participants()
	require.Len(t, infos, 2)
	byID := map[string]string{}
	for _, info := range infos {
		byID[info.ID] = info.Alias
	}
	assert.Equal(t, "Anna", byID["a"])
	assert.Equal(t, "Ben", byID["b"])
}
