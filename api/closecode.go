// File: api/closecode.go
// Author: momentics <momentics@gmail.com>
//
// Close status codes (RFC 6455, section 7.4.1).

package api

// CloseCode is the status code carried by a WebSocket close frame.
type CloseCode uint16

const (
	CloseNormal      CloseCode = 1000
	CloseAway        CloseCode = 1001
	CloseProtocol    CloseCode = 1002
	CloseUnsupported CloseCode = 1003
	CloseStatus      CloseCode = 1005
	CloseAbnormal    CloseCode = 1006
	CloseInvalid     CloseCode = 1007
	ClosePolicy      CloseCode = 1008
	CloseSize        CloseCode = 1009
	CloseExtension   CloseCode = 1010
	CloseError       CloseCode = 1011
	CloseRestart     CloseCode = 1012
	CloseAgain       CloseCode = 1013
	CloseTLS         CloseCode = 1015
)

// IsReserved reports whether the code must never appear on the wire
// (1005, 1006 and 1015 are for local reporting only).
func (c CloseCode) IsReserved() bool {
	return c == CloseStatus || c == CloseAbnormal || c == CloseTLS
}

func (c CloseCode) String() string {
	switch c {
	case CloseNormal:
		return "normal"
	case CloseAway:
		return "away"
	case CloseProtocol:
		return "protocol"
	case CloseUnsupported:
		return "unsupported"
	case CloseStatus:
		return "no status"
	case CloseAbnormal:
		return "abnormal"
	case CloseInvalid:
		return "invalid data"
	case ClosePolicy:
		return "policy violation"
	case CloseSize:
		return "message too big"
	case CloseExtension:
		return "extension required"
	case CloseError:
		return "internal error"
	case CloseRestart:
		return "service restart"
	case CloseAgain:
		return "try again later"
	case CloseTLS:
		return "tls handshake failure"
	default:
		return "other"
	}
}
