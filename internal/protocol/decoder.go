package protocol

import (
	"encoding/binary"
	"log/slog"
)

// maxResyncAttempts bounds how many leading bytes are shifted off while
// hunting for the magic word before the whole buffer is dropped. Keeps the
// decoder live under pathological corruption without unbounded log spam.
const maxResyncAttempts = 10

// Decoder reassembles frames from an arbitrarily chunked byte stream. It is
// stateful and restartable: a partial frame is retained verbatim across Feed
// calls. A Decoder belongs to exactly one connection and is never accessed by
// more than one goroutine at a time; serialization is guaranteed by the read
// path, not by a lock.
type Decoder struct {
	buf []byte
	log *slog.Logger
}

func NewDecoder(log *slog.Logger) *Decoder {
	if log == nil {
		log = slog.Default()
	}
	return &Decoder{log: log}
}

// Feed appends data to the internal buffer and returns every complete frame
// that can be decoded from it, in order. The returned packets own their
// payload bytes.
func (d *Decoder) Feed(data []byte) []Packet {
	d.buf = append(d.buf, data...)

	var packets []Packet
	mismatches := 0
	for len(d.buf) >= HeaderSize {
		magic := binary.BigEndian.Uint32(d.buf[0:4])
		if magic != Magic {
			mismatches++
			if mismatches > maxResyncAttempts {
				d.log.Warn("framing lost beyond resync threshold, dropping buffer",
					"buffered", len(d.buf))
				d.buf = nil
				break
			}
			d.log.Warn("magic mismatch, discarding one byte",
				"got", magic, "attempt", mismatches)
			d.buf = d.buf[1:]
			continue
		}
		mismatches = 0

		length := binary.BigEndian.Uint32(d.buf[6:10])
		total := HeaderSize + int(length)
		if len(d.buf) < total {
			// Partial frame, wait for more data.
			break
		}

		payload := make([]byte, length)
		copy(payload, d.buf[HeaderSize:total])
		packets = append(packets, Packet{
			Type:    MsgType(binary.BigEndian.Uint16(d.buf[4:6])),
			Payload: payload,
		})
		d.buf = d.buf[total:]
	}
	return packets
}

// Buffered returns the number of bytes retained for the next Feed call.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Clear drops any residual partial frame.
func (d *Decoder) Clear() { d.buf = nil }
