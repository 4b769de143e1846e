package storage

import "errors"

// Sentinel errors returned by Operations. The handler maps them to RESP
// error replies, so their text is the reply text without the "ERR " prefix.
var (
	ErrWrongType       = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	ErrNotInteger      = errors.New("value is not an integer or out of range")
	ErrNotFloat        = errors.New("value is not a valid float")
	ErrOverflow        = errors.New("increment or decrement would overflow")
	ErrNaN             = errors.New("increment would produce NaN or Infinity")
	ErrNoSuchKey       = errors.New("no such key")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrSyntax          = errors.New("syntax error")
	ErrInvalidLonLat   = errors.New("invalid longitude,latitude pair")
	ErrHLLCorrupt      = errors.New("WRONGTYPE Key is not a valid HyperLogLog string value.")
	ErrZAddOptions     = errors.New("GT, LT, and/or NX options at the same time are not compatible")

	errHashNotInteger = errors.New("hash value is not an integer")
	errHashNotFloat   = errors.New("hash value is not a float")

	// Stream errors
	ErrInvalidStreamID  = errors.New("Invalid stream ID specified as stream command argument")
	ErrStreamIDTooSmall = errors.New("The ID specified in XADD is equal or smaller than the target stream top item")
	ErrStreamIDZero     = errors.New("The ID specified in XADD must be greater than 0-0")
	ErrBusyGroup        = errors.New("BUSYGROUP Consumer Group name already exists")
	ErrGroupKeyMissing  = errors.New("The XGROUP subcommand requires the key to exist. Note that for CREATE you may want to use the MKSTREAM option to create an empty stream automatically.")

	// ErrTxAborted is returned by Store.Exec when a watched key changed
	// between WATCH and EXEC.
	ErrTxAborted = errors.New("transaction aborted: watched key modified")
)

// NoGroupError reports a missing stream or consumer group. Context is
// appended to the message, e.g. " in XREADGROUP with GROUP option".
type NoGroupError struct {
	Key     string
	Group   string
	Context string
}

func (e *NoGroupError) Error() string {
	return "NOGROUP No such key '" + e.Key + "' or consumer group '" + e.Group + "'" + e.Context
}

// IsReplyCode reports whether err's text already starts with a Redis error
// code (WRONGTYPE, BUSYGROUP, NOGROUP...) and must not get the "ERR " prefix.
func IsReplyCode(err error) bool {
	var ng *NoGroupError
	if errors.As(err, &ng) {
		return true
	}
	return errors.Is(err, ErrWrongType) || errors.Is(err, ErrBusyGroup) || errors.Is(err, ErrHLLCorrupt)
}
