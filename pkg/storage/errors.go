package storage

import (
	"errors"
	"strings"
)

// ErrorKind classifies a store failure for retry and recovery decisions.
type ErrorKind int

const (
	// ErrorKindNone means no failure occurred.
	ErrorKindNone ErrorKind = iota

	// ErrorKindTransient covers one-off failures worth retrying on a later
	// flush pass.
	ErrorKindTransient

	// ErrorKindCorruption covers capacity and row-corruption failures. The
	// failing operation is never retried; emergency recovery is signalled
	// instead.
	ErrorKindCorruption
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNone:
		return "none"
	case ErrorKindTransient:
		return "transient"
	case ErrorKindCorruption:
		return "corruption"
	default:
		return "unknown"
	}
}

// corruptionSignatures are matched case-insensitively against the full error
// text. They cover the oversized-row, unreadable-row and disk-full messages
// the guarded stores are known to produce.
var corruptionSignatures = []string{
	"cursorwindow",
	"row too big",
	"database or disk is full",
	"sqlite_full",
	"no space left",
	"disk full",
	"empty for row",
	"couldn't read row",
}

// sqliteFullCode is the numeric code SQLite-backed stores attach to capacity
// failures.
const sqliteFullCode = 13

type codedError interface {
	Code() int
}

// classifyStoreError maps a store failure onto an ErrorKind. All corruption
// matching lives here so the write queue, the detector and the recovery
// engine agree on what is retryable. ErrItemNotFound is not a failure and
// must be handled by callers before classifying.
func classifyStoreError(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}

	var coded codedError
	if errors.As(err, &coded) && coded.Code() == sqliteFullCode {
		return ErrorKindCorruption
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range corruptionSignatures {
		if strings.Contains(msg, sig) {
			return ErrorKindCorruption
		}
	}

	return ErrorKindTransient
}
