package ledger

import "errors"

var (
	ErrNotAuthorized       = errors.New("not authorized")
	ErrSystemPaused        = errors.New("system paused")
	ErrAlreadyPaused       = errors.New("already paused")
	ErrAlreadyOpen         = errors.New("batch already open")
	ErrNotOpen             = errors.New("batch not open")
	ErrBatchOpen           = errors.New("batch still open")
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrInvalidCiphertext   = errors.New("invalid ciphertext")
	ErrCooldownActive      = errors.New("cooldown active")
	ErrReplayDetected      = errors.New("replay detected")
	ErrStateMismatch       = errors.New("state fingerprint mismatch")
	ErrInvalidProof        = errors.New("invalid decryption proof")
	ErrMalformedCleartexts = errors.New("malformed cleartexts")
	ErrOracleUnavailable   = errors.New("oracle unavailable")
	ErrNotInitialized      = errors.New("ledger not initialized")
	ErrAlreadyInitialized  = errors.New("ledger already initialized")
)

// kinds maps every rejection to a stable name.
var kinds = []struct {
	err  error
	name string
}{
	{ErrNotAuthorized, "NotAuthorized"},
	{ErrSystemPaused, "SystemPaused"},
	{ErrAlreadyPaused, "AlreadyPaused"},
	{ErrAlreadyOpen, "AlreadyOpen"},
	{ErrNotOpen, "NotOpen"},
	{ErrBatchOpen, "BatchOpen"},
	{ErrInvalidParameter, "InvalidParameter"},
	{ErrInvalidCiphertext, "InvalidCiphertext"},
	{ErrCooldownActive, "CooldownActive"},
	{ErrReplayDetected, "ReplayDetected"},
	{ErrStateMismatch, "StateMismatch"},
	{ErrInvalidProof, "InvalidProof"},
	{ErrMalformedCleartexts, "MalformedCleartexts"},
	{ErrOracleUnavailable, "OracleUnavailable"},
	{ErrNotInitialized, "NotInitialized"},
	{ErrAlreadyInitialized, "AlreadyInitialized"},
}

// Kind returns the stable name of a ledger rejection, "" for nil and
// "Internal" for anything that is not a ledger rejection.
func Kind(err error) string {
	if err == nil {
		return ""
	}

	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}

	return "Internal"
}

// IsRejection reports whether err is a ledger rejection rather than an
// internal failure.
func IsRejection(err error) bool {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return true
		}
	}
	return false
}

// FromKind returns the ledger rejection named by kind, or nil when kind does
// not name one.
func FromKind(kind string) error {
	for _, k := range kinds {
		if k.name == kind {
			return k.err
		}
	}
	return nil
}
