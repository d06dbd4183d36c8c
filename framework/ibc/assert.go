package ibc

import (
	errorsmod "cosmossdk.io/errors"
)

// AssertPacketsFromA checks that exactly count packets went from A to B and
// that every acknowledgement B wrote for them matches the expected outcome.
func AssertPacketsFromA(relay RelayInfo, count int, success bool) error {
	return assertPackets(SideA, relay.PacketsFromA, relay.AcksFromB, count, success)
}

// AssertPacketsFromB checks that exactly count packets went from B to A and
// that every acknowledgement A wrote for them matches the expected outcome.
func AssertPacketsFromB(relay RelayInfo, count int, success bool) error {
	return assertPackets(SideB, relay.PacketsFromB, relay.AcksFromA, count, success)
}

func assertPackets(from Side, packets int, acks []AckWithPacket, count int, success bool) error {
	if packets != count {
		return errorsmod.Wrapf(ErrCountMismatch, "expected %d packets from %s, got %d", count, from, packets)
	}
	if len(acks) != count {
		return errorsmod.Wrapf(ErrCountMismatch, "expected %d acks for packets from %s, got %d", count, from, len(acks))
	}

	for _, a := range acks {
		ack, err := DecodeAck(a.Acknowledgement)
		if err != nil {
			return err
		}
		if success && !ack.Success() {
			return errorsmod.Wrapf(ErrUnexpectedAckResult, "packet %d on %s: ack error unexpectedly set: %s", a.Packet.Sequence, a.Packet.SourceChannel, ack.Error)
		}
		if !success && ack.Success() {
			return errorsmod.Wrapf(ErrUnexpectedAckResult, "packet %d on %s: ack result unexpectedly set", a.Packet.Sequence, a.Packet.SourceChannel)
		}
	}
	return nil
}
