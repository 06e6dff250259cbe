package model

import (
	"math/rand/v2"
	"strconv"

	"github.com/oklog/ulid/v2"
)

// JobID names one render attempt. It is minted when a job starts, never
// reused, and only ever compared for equality.
type JobID string

// NewJobID generates a new ULID-backed job identity.
func NewJobID() JobID {
	return JobID(ulid.Make().String())
}

func (id JobID) String() string { return string(id) }

// InstanceID identifies one plugin instance applied to a layer.
type InstanceID uint64

// NewInstanceID returns a random, non-zero instance identity.
func NewInstanceID() InstanceID {
	for {
		if id := InstanceID(rand.Uint64()); id != 0 {
			return id
		}
	}
}

func (id InstanceID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseInstanceID parses the decimal form produced by InstanceID.String.
func ParseInstanceID(s string) (InstanceID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return InstanceID(v), nil
}
