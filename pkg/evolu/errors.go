package evolu

import "errors"

// Error taxonomy (spec §7). Each variant is a sentinel error so callers can
// match it with errors.Is without parsing strings.

// TimestampError variants.
var (
	ErrDriftExceeded  = errors.New("timestamp: drift exceeded")
	ErrCounterOverflow = errors.New("timestamp: counter overflow")
	ErrTimeOutOfRange = errors.New("timestamp: time out of range")
	ErrDuplicateNode  = errors.New("timestamp: duplicate node id")
)

// StorageError variants.
var (
	ErrConstraintViolation = errors.New("storage: constraint violation")
	ErrIOFailure           = errors.New("storage: io failure")
	ErrCorrupted           = errors.New("storage: corrupted")
)

// CryptoError variants.
var (
	ErrDecryptFailed = errors.New("crypto: decrypt failed")
	ErrBadKey        = errors.New("crypto: bad key")
	ErrBadMnemonic   = errors.New("crypto: bad mnemonic")
)

// ProtocolError variants.
var (
	ErrVersionMismatch   = errors.New("protocol: version mismatch")
	ErrMalformedFrame    = errors.New("protocol: malformed frame")
	ErrUnknownTag        = errors.New("protocol: unknown tag")
	ErrWriteKeyInvalid   = errors.New("protocol: write key invalid")
	ErrSizeLimitExceeded = errors.New("protocol: size limit exceeded")
)

// NetworkError variants.
var (
	ErrConnectFailed    = errors.New("network: connect failed")
	ErrConnectionClosed = errors.New("network: connection closed")
	ErrNetworkTimeout   = errors.New("network: timeout")
)

// SchemaError variants.
var (
	ErrTypeValidation = errors.New("schema: type validation failed")
	ErrUnknownTable   = errors.New("schema: unknown table")
	ErrMissingID      = errors.New("schema: missing id")
)
