package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestClassifyStoreErrorSignatures verifies that every known corruption
// signature is matched case-insensitively anywhere in the error text.
func TestClassifyStoreErrorSignatures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil error", nil, ErrorKindNone},
		{"cursor window", errors.New("Row too big to fit into CursorWindow requiredPos=0, totalRows=1"), ErrorKindCorruption},
		{"cursor window lowercase", errors.New("failed: cursorwindow allocation of 2048 kb failed"), ErrorKindCorruption},
		{"row too big", errors.New("ROW TOO BIG to fit into window"), ErrorKindCorruption},
		{"database or disk is full", errors.New("database or disk is full (code 13)"), ErrorKindCorruption},
		{"sqlite full", errors.New("error while executing: SQLITE_FULL"), ErrorKindCorruption},
		{"no space left", errors.New("write failed: No space left on device"), ErrorKindCorruption},
		{"disk full", errors.New("Disk Full while appending journal"), ErrorKindCorruption},
		{"empty row", errors.New("Couldn't read row 0, col 0 from CursorWindow: window is empty for row 0"), ErrorKindCorruption},
		{"unreadable row", errors.New("couldn't read row 12 from store"), ErrorKindCorruption},
		{"plain io failure", errors.New("i/o timeout"), ErrorKindTransient},
		{"context deadline", errors.New("context deadline exceeded"), ErrorKindTransient},
		{"unrelated full word", errors.New("buffer pool exhausted"), ErrorKindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyStoreError(tt.err))
		})
	}
}

// TestClassifyStoreErrorCode13 verifies the SQLite capacity code is treated
// as corruption even when the message carries no known signature.
func TestClassifyStoreErrorCode13(t *testing.T) {
	coded := &StoreError{Op: "set", Key: "k", ErrCode: 13, Err: errors.New("constraint violation")}
	assert.Equal(t, ErrorKindCorruption, classifyStoreError(coded))

	// The code must survive wrapping.
	wrapped := fmt.Errorf("queue flush: %w", coded)
	assert.Equal(t, ErrorKindCorruption, classifyStoreError(wrapped))

	// Other codes classify by message alone.
	other := &StoreError{Op: "set", Key: "k", ErrCode: 5, Err: errors.New("database is locked")}
	assert.Equal(t, ErrorKindTransient, classifyStoreError(other))
}

// TestStoreErrorFormatting verifies StoreError renders the operation and key
// and unwraps to its cause.
func TestStoreErrorFormatting(t *testing.T) {
	cause := errors.New("boom")

	withKey := &StoreError{Op: "get", Key: "meal_draft_1", Err: cause}
	assert.Contains(t, withKey.Error(), "get")
	assert.Contains(t, withKey.Error(), "meal_draft_1")
	assert.ErrorIs(t, withKey, cause)

	withoutKey := &StoreError{Op: "keys", Err: cause}
	assert.Contains(t, withoutKey.Error(), "keys")
	assert.ErrorIs(t, withoutKey, cause)
}

// TestErrorKindString covers the kind labels used in logs.
func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "none", ErrorKindNone.String())
	assert.Equal(t, "transient", ErrorKindTransient.String())
	assert.Equal(t, "corruption", ErrorKindCorruption.String())
	assert.Equal(t, "unknown", ErrorKind(99).String())
}
