package relayer

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/osmosis-labs/mesh-harness/framework/ibc"
)

// ErrHermes is returned when Hermes reports an error status.
var ErrHermes = errors.New("hermes command failed")

var errNoResult = fmt.Errorf("%w: no result line", ErrHermes)

// result is the final line Hermes prints with --json.
type result struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
}

// parseResult finds the result line in stdout, skipping the log lines Hermes
// interleaves with it, and decodes its payload into out.
func parseResult(stdout []byte, out any) error {
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") || !strings.Contains(line, `"status"`) {
			continue
		}
		var res result
		if err := json.Unmarshal([]byte(line), &res); err != nil {
			continue
		}
		if res.Status != "success" {
			var msg string
			if err := json.Unmarshal(res.Result, &msg); err != nil {
				msg = string(res.Result)
			}
			return fmt.Errorf("%w: %s", ErrHermes, msg)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(res.Result, out); err != nil {
			return fmt.Errorf("decode hermes result: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w in %q", errNoResult, strings.TrimSpace(string(stdout)))
}

type connectionSide struct {
	ClientID     string `json:"client_id"`
	ConnectionID string `json:"connection_id"`
}

type connectionResult struct {
	ASide connectionSide `json:"a_side"`
	BSide connectionSide `json:"b_side"`
}

type channelSide struct {
	ClientID     string `json:"client_id"`
	ConnectionID string `json:"connection_id"`
	PortID       string `json:"port_id"`
	ChannelID    string `json:"channel_id"`
	Version      string `json:"version"`
}

type channelResult struct {
	Ordering string      `json:"ordering"`
	ASide    channelSide `json:"a_side"`
	BSide    channelSide `json:"b_side"`
	Version  string      `json:"version"`
}

// channel describes the channel from the a_side. Order is empty when Hermes
// did not report it.
func (r channelResult) channel() ibc.Channel {
	var order ibc.ChannelOrder
	switch ordering := strings.ToLower(r.Ordering); {
	case strings.Contains(ordering, "unordered"):
		order = ibc.OrderUnordered
	case strings.Contains(ordering, "ordered"):
		order = ibc.OrderOrdered
	}
	version := r.ASide.Version
	if version == "" {
		version = r.Version
	}
	return ibc.Channel{
		ChannelID:        r.ASide.ChannelID,
		CounterpartyID:   r.BSide.ChannelID,
		PortID:           r.ASide.PortID,
		CounterpartyPort: r.BSide.PortID,
		ConnectionID:     r.ASide.ConnectionID,
		State:            "OPEN",
		Order:            order,
		Version:          version,
	}
}

// bytesField accepts the encodings Hermes has used for packet data and
// acknowledgements: upper hex, base64 and arrays of numbers.
type bytesField []byte

func (b *bytesField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var ints []int
		if err := json.Unmarshal(data, &ints); err != nil {
			return err
		}
		raw := make([]byte, len(ints))
		for i, n := range ints {
			raw[i] = byte(n)
		}
		*b = raw
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if raw, err := hex.DecodeString(s); err == nil {
		*b = raw
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("neither hex nor base64: %q", s)
	}
	*b = raw
	return nil
}

// uintField accepts a number or a decimal string.
type uintField uint64

func (u *uintField) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parse sequence %q: %w", s, err)
	}
	*u = uintField(v)
	return nil
}

type packetJSON struct {
	Sequence           uintField  `json:"sequence"`
	SourcePort         string     `json:"source_port"`
	SourceChannel      string     `json:"source_channel"`
	DestinationPort    string     `json:"destination_port"`
	DestinationChannel string     `json:"destination_channel"`
	Data               bytesField `json:"data"`
}

func (p packetJSON) packet() ibc.Packet {
	return ibc.Packet{
		Sequence:           uint64(p.Sequence),
		SourcePort:         p.SourcePort,
		SourceChannel:      p.SourceChannel,
		DestinationPort:    p.DestinationPort,
		DestinationChannel: p.DestinationChannel,
		Data:               p.Data,
	}
}

type packetEvent struct {
	Packet packetJSON `json:"packet"`
	Ack    bytesField `json:"ack"`
}

// relayEvents is what `tx packet-recv` and `tx packet-ack` emit.
type relayEvents struct {
	Received []ibc.Packet
	Acks     []ibc.AckWithPacket
	Acked    []ibc.Packet
}

// parseEvents decodes a list of events, each either bare or wrapped together
// with its height. A ChainError event fails the whole list.
func parseEvents(raw json.RawMessage) (relayEvents, error) {
	var out relayEvents
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return out, fmt.Errorf("decode events: %w", err)
	}
	for _, item := range items {
		var wrapped struct {
			Event json.RawMessage `json:"event"`
		}
		if err := json.Unmarshal(item, &wrapped); err == nil && len(wrapped.Event) > 0 {
			item = wrapped.Event
		}
		var ev map[string]json.RawMessage
		if err := json.Unmarshal(item, &ev); err != nil {
			// Unit variants such as "NewBlock" are plain strings.
			continue
		}
		for kind, body := range ev {
			switch kind {
			case "ChainError":
				var msg string
				if err := json.Unmarshal(body, &msg); err != nil {
					msg = string(body)
				}
				return out, fmt.Errorf("%w: %s", ErrHermes, msg)
			case "ReceivePacket":
				var pe packetEvent
				if err := json.Unmarshal(body, &pe); err != nil {
					return out, fmt.Errorf("decode %s: %w", kind, err)
				}
				out.Received = append(out.Received, pe.Packet.packet())
			case "WriteAcknowledgement":
				var pe packetEvent
				if err := json.Unmarshal(body, &pe); err != nil {
					return out, fmt.Errorf("decode %s: %w", kind, err)
				}
				out.Acks = append(out.Acks, ibc.AckWithPacket{Acknowledgement: pe.Ack, Packet: pe.Packet.packet()})
			case "AcknowledgePacket":
				var pe packetEvent
				if err := json.Unmarshal(body, &pe); err != nil {
					return out, fmt.Errorf("decode %s: %w", kind, err)
				}
				out.Acked = append(out.Acked, pe.Packet.packet())
			}
		}
	}
	return out, nil
}

// deliveredCount counts the distinct packets seen either received or acknowledged.
func (e relayEvents) deliveredCount() int {
	seen := make(map[string]struct{})
	key := func(p ibc.Packet) string {
		return fmt.Sprintf("%s/%s/%d", p.SourcePort, p.SourceChannel, p.Sequence)
	}
	for _, p := range e.Received {
		seen[key(p)] = struct{}{}
	}
	for _, a := range e.Acks {
		seen[key(a.Packet)] = struct{}{}
	}
	return len(seen)
}
