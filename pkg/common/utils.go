// Package common provides shared utilities for the shadowvault ledger.
package common

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Common errors
var (
	ErrInvalidHash   = errors.New("invalid hash")
	ErrInvalidLength = errors.New("invalid length")
)

// HexToBytes converts a hex string to bytes; the 0x prefix is optional
func HexToBytes(s string) ([]byte, error) {
	if len(s) < 2 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

// BytesToHex converts bytes to a hex string with 0x prefix
func BytesToHex(b []byte) string {
	return hexutil.Encode(b)
}

// RandomBytes generates n random bytes
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// TimestampToTime converts signed seconds since the epoch to time.Time
func TimestampToTime(ts int64) time.Time {
	return time.Unix(ts, 0).UTC()
}

// Uint64ToBytes converts uint64 to bytes (big endian)
func Uint64ToBytes(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// IsZeroBytes checks if all bytes are zero
func IsZeroBytes(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// CopyBytes returns a copy of a byte slice
func CopyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
