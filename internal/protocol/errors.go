package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrSeatTaken       = "E_SEAT_TAKEN"
	ErrRateLimit       = "E_RATE_LIMIT"

	// Command layer.
	ErrBadRequest       = "E_BAD_REQUEST"
	ErrInvalidReference = "E_INVALID_REFERENCE"
	ErrNoResource       = "E_NO_RESOURCE"
	ErrInvalidState     = "E_INVALID_STATE"
	ErrClosed           = "E_CLOSED"
	ErrInternal         = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:  {},
	ErrSeatTaken:        {},
	ErrRateLimit:        {},
	ErrBadRequest:       {},
	ErrInvalidReference: {},
	ErrNoResource:       {},
	ErrInvalidState:     {},
	ErrClosed:           {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
