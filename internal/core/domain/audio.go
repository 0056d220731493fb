package domain

import "encoding/binary"

// Audio framing constants. One frame matches the browser AudioWorklet
// render quantum: 128 samples at 48 kHz, about 2.67ms of audio.
const (
	AudioHeaderSize  = 8
	SamplesPerFrame  = 128
	AudioPayloadSize = SamplesPerFrame * 2
	AudioPacketSize  = AudioHeaderSize + AudioPayloadSize
	SampleRate       = 48000
)

// AudioPacket is the wire form of one audio datagram: 4-byte
// little-endian sequence, 4-byte little-endian timestamp, 128
// little-endian int16 samples. 264 bytes exactly.
type AudioPacket struct {
	Sequence  uint32
	Timestamp uint32
	Samples   [SamplesPerFrame]int16
}

// Serialize writes the packet into buf, which must hold AudioPacketSize
// bytes.
func (p *AudioPacket) Serialize(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], p.Sequence)
	binary.LittleEndian.PutUint32(buf[4:8], p.Timestamp)
	for i, s := range p.Samples {
		binary.LittleEndian.PutUint16(buf[AudioHeaderSize+i*2:], uint16(s))
	}
}

// DeserializeAudioPacket parses a wire buffer. Short buffers yield a
// zeroed packet; the caller decides whether to reject.
func DeserializeAudioPacket(buf []byte) AudioPacket {
	var p AudioPacket
	if len(buf) < AudioPacketSize {
		return p
	}
	p.Sequence = binary.LittleEndian.Uint32(buf[0:4])
	p.Timestamp = binary.LittleEndian.Uint32(buf[4:8])
	for i := range p.Samples {
		p.Samples[i] = int16(binary.LittleEndian.Uint16(buf[AudioHeaderSize+i*2:]))
	}
	return p
}

// AudioFrame is the in-memory form used inside the mixer. Same fields as
// AudioPacket; kept separate so the mixer never depends on wire layout.
type AudioFrame struct {
	Sequence  uint32
	Timestamp uint32
	Samples   [SamplesPerFrame]int16
}

// FrameFromPacket converts a decoded packet into a mixer frame.
func FrameFromPacket(p AudioPacket) AudioFrame {
	return AudioFrame{Sequence: p.Sequence, Timestamp: p.Timestamp, Samples: p.Samples}
}

// ToPacket converts a frame back to its wire form.
func (f *AudioFrame) ToPacket() AudioPacket {
	return AudioPacket{Sequence: f.Sequence, Timestamp: f.Timestamp, Samples: f.Samples}
}
