package proto

import (
	"errors"
	"fmt"

	"cbmbridge/internal/cbmerr"
)

// ChannelState is the host's view of one channel.
type ChannelState byte

const (
	StateClosed ChannelState = iota
	StateOpening
	StateOpen
	StateDraining // the last read chunk was sent
)

func (s ChannelState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpening:
		return "OPENING"
	case StateOpen:
		return "OPEN"
	case StateDraining:
		return "DRAINING"
	}
	return fmt.Sprintf("STATE_%d", byte(s))
}

var (
	// ErrNotOpen is the answer to data requests on a closed channel.
	ErrNotOpen = cbmerr.Wrap(cbmerr.FileNotOpen, errors.New("channel not open"))
	// ErrProtocol marks a request the channel state does not allow. The
	// channel is closed and FAULT reported.
	ErrProtocol = errors.New("protocol violation")
)

// Request checks a device request against state s and returns the state
// while the request is processed.
func (s ChannelState) Request(op Opcode) (ChannelState, error) {
	switch {
	case op.IsOpen():
		if s == StateOpening {
			return StateClosed, violation(s, op)
		}
		return StateOpening, nil
	case op == OpClose, op == OpReset:
		return StateClosed, nil
	case op == OpRead:
		switch s {
		case StateOpen, StateDraining:
			return s, nil
		case StateClosed:
			return s, ErrNotOpen
		}
	case op == OpWrite, op == OpWriteEOF, op == OpSeek, op == OpPosition:
		switch s {
		case StateOpen, StateDraining:
			return StateOpen, nil
		case StateClosed:
			return s, ErrNotOpen
		}
	default:
		return s, nil
	}
	return StateClosed, violation(s, op)
}

// Reply returns the state after the host answered req with op and code.
func (s ChannelState) Reply(req, op Opcode, code cbmerr.Code) ChannelState {
	switch {
	case req.IsOpen():
		if op == OpReply && code == cbmerr.OK {
			return StateOpen
		}
		return StateClosed
	case req == OpRead:
		switch op {
		case OpData:
			return StateOpen
		case OpDataEOF:
			return StateDraining
		}
		return s
	case req == OpWriteEOF, req == OpClose, req == OpReset:
		return StateClosed
	}
	return s
}

func violation(s ChannelState, op Opcode) error {
	return cbmerr.Wrap(cbmerr.Fault, fmt.Errorf("%w: %s in state %s", ErrProtocol, op, s))
}
