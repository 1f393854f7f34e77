/*
The tlv package decodes and encodes the type-length-value framing the
controller uses to carry commands inside HTTP bodies. A packet is an 8-byte
big-endian header (total length including the header, then a packet type)
followed by a sequence of values, each with its own 8-byte length/type header.
Field type constants and the first-contact sentinel are fixed by the
controller contract and must not change.
*/
package tlv

import (
	"encoding/binary"
	"fmt"

	"remora.dev/agent/bufferqueue"
)

const (
	headerLen = 8

	// Meta types occupy the high bits of a field type and describe how the
	// value bytes are interpreted.
	metaTypeString uint32 = 1 << 16
	metaTypeUint   uint32 = 1 << 17
	metaTypeRaw    uint32 = 1 << 18
	metaTypeBool   uint32 = 1 << 19

	// Fields used by the channel layer.
	TypeMethod   = metaTypeString | 1
	TypeTransURL = metaTypeString | 431

	// MethodPatchURL is the first-contact sentinel: a packet whose method
	// field carries this value asks the channel to rewrite its endpoint path.
	MethodPatchURL = "core_patch_url"
)

type value struct {
	fieldType uint32
	data      []byte
}

type Packet struct {
	packetType uint32
	values     []value
}

func NewPacket(packetType uint32) *Packet {
	return &Packet{packetType: packetType}
}

func (p *Packet) Type() uint32 {
	return p.packetType
}

// AddString appends a string field. The wire value is NUL-terminated.
func (p *Packet) AddString(fieldType uint32, s string) {
	p.values = append(p.values, value{
		fieldType: fieldType,
		data:      append([]byte(s), 0x00),
	})
}

func (p *Packet) AddRaw(fieldType uint32, data []byte) {
	p.values = append(p.values, value{fieldType: fieldType, data: data})
}

// GetString returns the first string field of the given type with its
// terminating NUL stripped.
func (p *Packet) GetString(fieldType uint32) (string, bool) {
	for _, v := range p.values {
		if v.fieldType != fieldType {
			continue
		}
		data := v.data
		if len(data) > 0 && data[len(data)-1] == 0x00 {
			data = data[:len(data)-1]
		}
		return string(data), true
	}
	return "", false
}

func (p *Packet) GetRaw(fieldType uint32) ([]byte, bool) {
	for _, v := range p.values {
		if v.fieldType == fieldType {
			return v.data, true
		}
	}
	return nil, false
}

func (p *Packet) Encode() []byte {
	total := headerLen
	for _, v := range p.values {
		total += headerLen + len(v.data)
	}

	encoded := make([]byte, 0, total)
	encoded = binary.BigEndian.AppendUint32(encoded, uint32(total))
	encoded = binary.BigEndian.AppendUint32(encoded, p.packetType)
	for _, v := range p.values {
		encoded = binary.BigEndian.AppendUint32(encoded, uint32(headerLen+len(v.data)))
		encoded = binary.BigEndian.AppendUint32(encoded, v.fieldType)
		encoded = append(encoded, v.data...)
	}
	return encoded
}

// ReadPacket consumes one whole packet from the front of the queue. If the
// queue does not yet hold a complete packet the queue is left untouched so
// the caller can retry once more bytes arrive.
func ReadPacket(queue *bufferqueue.Queue) (*Packet, error) {
	header := queue.Peek(headerLen)
	if header == nil {
		return nil, fmt.Errorf("queue holds %d bytes, too short for a packet header", queue.Len())
	}

	total := binary.BigEndian.Uint32(header[:4])
	if total < headerLen {
		return nil, fmt.Errorf("invalid packet length %d", total)
	}
	if queue.Len() < int(total) {
		return nil, fmt.Errorf("queue holds %d of %d packet bytes", queue.Len(), total)
	}

	raw := queue.Next(int(total))
	packet := NewPacket(binary.BigEndian.Uint32(raw[4:8]))

	body := raw[headerLen:]
	for len(body) > 0 {
		if len(body) < headerLen {
			return nil, fmt.Errorf("truncated value header: %d trailing bytes", len(body))
		}
		valueLen := binary.BigEndian.Uint32(body[:4])
		if valueLen < headerLen || int(valueLen) > len(body) {
			return nil, fmt.Errorf("invalid value length %d with %d bytes remaining", valueLen, len(body))
		}
		packet.values = append(packet.values, value{
			fieldType: binary.BigEndian.Uint32(body[4:8]),
			data:      body[headerLen:valueLen],
		})
		body = body[valueLen:]
	}

	return packet, nil
}
