package transport

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PacketType is an Engine.IO packet type.
type PacketType byte

const (
	PacketOpen    PacketType = '0'
	PacketClose   PacketType = '1'
	PacketPing    PacketType = '2'
	PacketPong    PacketType = '3'
	PacketMessage PacketType = '4'
	PacketUpgrade PacketType = '5'
	PacketNoop    PacketType = '6'
)

// recordSeparator joins packets in a polling payload.
const recordSeparator = "\x1e"

// Packet is one Engine.IO packet with a text body.
type Packet struct {
	Type PacketType
	Data string
}

func (p Packet) String() string { return string(rune(p.Type)) + p.Data }

// DecodePacket parses a single text-encoded Engine.IO packet.
func DecodePacket(s string) (Packet, error) {
	if s == "" {
		return Packet{}, fmt.Errorf("empty packet")
	}
	t := PacketType(s[0])
	if t < PacketOpen || t > PacketNoop {
		return Packet{}, fmt.Errorf("unknown packet type %q", s[0])
	}
	return Packet{Type: t, Data: s[1:]}, nil
}

// EncodePayload joins packets for a polling request body.
func EncodePayload(packets ...Packet) string {
	parts := make([]string, len(packets))
	for i, p := range packets {
		parts[i] = p.String()
	}
	return strings.Join(parts, recordSeparator)
}

// DecodePayload splits a polling response body into packets.
func DecodePayload(body string) ([]Packet, error) {
	if body == "" {
		return nil, nil
	}
	parts := strings.Split(body, recordSeparator)
	packets := make([]Packet, 0, len(parts))
	for _, part := range parts {
		p, err := DecodePacket(part)
		if err != nil {
			return nil, err
		}
		packets = append(packets, p)
	}
	return packets, nil
}

// OpenInfo is the body of the open packet.
type OpenInfo struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload,omitempty"`
}

// CanUpgrade reports whether the server offers the named transport.
func (o OpenInfo) CanUpgrade(name string) bool {
	for _, u := range o.Upgrades {
		if u == name {
			return true
		}
	}
	return false
}

// SocketType is a Socket.IO packet type carried inside an Engine.IO message.
type SocketType byte

const (
	SocketConnect      SocketType = '0'
	SocketDisconnect   SocketType = '1'
	SocketEvent        SocketType = '2'
	SocketAck          SocketType = '3'
	SocketConnectError SocketType = '4'
)

// SocketPacket is a decoded Socket.IO packet.
type SocketPacket struct {
	Type      SocketType
	Namespace string
	AckID     int
	HasAck    bool
	Data      json.RawMessage
}

func normalizeNamespace(ns string) string {
	if ns == "" {
		return "/"
	}
	return ns
}

// EncodeSocket renders a Socket.IO packet as the body of an Engine.IO message.
func EncodeSocket(p SocketPacket) string {
	var b strings.Builder
	b.WriteByte(byte(p.Type))
	if ns := normalizeNamespace(p.Namespace); ns != "/" {
		b.WriteString(ns)
		b.WriteByte(',')
	}
	if p.HasAck {
		b.WriteString(strconv.Itoa(p.AckID))
	}
	b.Write(p.Data)
	return b.String()
}

// DecodeSocket parses the body of an Engine.IO message.
func DecodeSocket(s string) (SocketPacket, error) {
	if s == "" {
		return SocketPacket{}, fmt.Errorf("empty socket packet")
	}
	p := SocketPacket{Type: SocketType(s[0]), Namespace: "/"}
	if p.Type < SocketConnect || p.Type > SocketConnectError {
		return SocketPacket{}, fmt.Errorf("unknown socket packet type %q", s[0])
	}
	rest := s[1:]
	if strings.HasPrefix(rest, "/") {
		end := strings.IndexByte(rest, ',')
		if end < 0 {
			p.Namespace = rest
			return p, nil
		}
		p.Namespace = rest[:end]
		rest = rest[end+1:]
	}
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i > 0 {
		id, err := strconv.Atoi(rest[:i])
		if err != nil {
			return SocketPacket{}, fmt.Errorf("bad ack id: %w", err)
		}
		p.AckID, p.HasAck = id, true
		rest = rest[i:]
	}
	if rest != "" {
		if !json.Valid([]byte(rest)) {
			return SocketPacket{}, fmt.Errorf("invalid json in socket packet")
		}
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// EncodeEvent builds an EVENT packet body for name with an optional payload.
func EncodeEvent(namespace, name string, payload any) (string, error) {
	args := []any{name}
	if payload != nil {
		args = append(args, payload)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode event %s: %w", name, err)
	}
	return EncodeSocket(SocketPacket{Type: SocketEvent, Namespace: namespace, Data: data}), nil
}

// DecodeEvent splits EVENT data into its name and first argument.
func DecodeEvent(data json.RawMessage) (string, json.RawMessage, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(data, &args); err != nil {
		return "", nil, fmt.Errorf("event data is not an array: %w", err)
	}
	if len(args) == 0 {
		return "", nil, fmt.Errorf("event data is empty")
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return "", nil, fmt.Errorf("event name is not a string: %w", err)
	}
	if len(args) == 1 {
		return name, nil, nil
	}
	return name, args[1], nil
}

// ConnectErrorMessage extracts the message from CONNECT_ERROR data.
func ConnectErrorMessage(data json.RawMessage) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return string(data)
}
