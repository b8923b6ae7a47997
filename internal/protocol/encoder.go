package protocol

import "encoding/binary"

// Encode builds a complete wire frame for the given type and payload.
// The encoder enforces no payload size cap; callers keep payloads to a few
// KiB of JSON.
func Encode(t MsgType, payload []byte) []byte {
	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], Magic)
	binary.BigEndian.PutUint16(frame[4:6], uint16(t))
	binary.BigEndian.PutUint32(frame[6:10], uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame
}
