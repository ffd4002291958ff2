package schema

import (
	"fmt"

	"github.com/danmuck/daqctl/internal/protocol/tlv"
)

// Client message type IDs.
const (
	MsgRegIO       uint16 = 1
	MsgRegIOResult uint16 = 2
	MsgError       uint16 = 3
)

// Field IDs.
const (
	FieldRType      uint16 = 1
	FieldRAddr      uint16 = 2
	FieldRVal       uint16 = 3
	FieldRID        uint16 = 4
	FieldWrite      uint16 = 5
	FieldDnodeError uint16 = 6

	FieldErrCode    uint16 = 10
	FieldErrMessage uint16 = 11
)

type Requirement struct {
	ID       uint16
	Type     uint8
	Optional bool
}

type ValidationError struct {
	MessageType uint16
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint16][]Requirement{
	MsgRegIO: {
		{ID: FieldRType, Type: tlv.TypeU8},
		{ID: FieldRAddr, Type: tlv.TypeU8},
		{ID: FieldRVal, Type: tlv.TypeU32, Optional: true},
	},
	MsgRegIOResult: {
		{ID: FieldRID, Type: tlv.TypeU16},
		{ID: FieldRType, Type: tlv.TypeU8},
		{ID: FieldRAddr, Type: tlv.TypeU8},
		{ID: FieldRVal, Type: tlv.TypeU32},
		{ID: FieldWrite, Type: tlv.TypeBool},
		{ID: FieldDnodeError, Type: tlv.TypeBool, Optional: true},
	},
	MsgError: {
		{ID: FieldErrCode, Type: tlv.TypeU32},
		{ID: FieldErrMessage, Type: tlv.TypeString, Optional: true},
	},
}

func Name(messageType uint16) string {
	switch messageType {
	case MsgRegIO:
		return "reg_io"
	case MsgRegIOResult:
		return "reg_io_result"
	case MsgError:
		return "error"
	default:
		return "unknown"
	}
}

// Validate enforces required fields and field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint16, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			if req.Optional {
				continue
			}
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
