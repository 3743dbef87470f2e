package uuidv7

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"time"

	"github.com/google/uuid"
)

// New returns a UUIDv7 (RFC 9562) stamped with the current time.
func New() (uuid.UUID, error) {
	return NewAt(time.Now())
}

// NewAt returns a UUIDv7 whose 48-bit millisecond prefix encodes at, so audit
// event ids sort the same way as their timestamps.
func NewAt(at time.Time) (uuid.UUID, error) {
	var u uuid.UUID
	if _, err := io.ReadFull(rand.Reader, u[6:]); err != nil {
		return uuid.Nil, err
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(at.UnixMilli()))
	copy(u[:6], ts[2:])

	u[6] = 0x70 | u[6]&0x0f
	u[8] = 0x80 | u[8]&0x3f
	return u, nil
}

func NewString() (string, error) {
	return NewStringAt(time.Now())
}

func NewStringAt(at time.Time) (string, error) {
	u, err := NewAt(at)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Time decodes the millisecond timestamp of a version 7 id.
func Time(u uuid.UUID) (time.Time, bool) {
	if u.Version() != 7 {
		return time.Time{}, false
	}
	var ts [8]byte
	copy(ts[2:], u[:6])
	return time.UnixMilli(int64(binary.BigEndian.Uint64(ts[:]))).UTC(), true
}
