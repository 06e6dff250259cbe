package instance

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/AppMana/golobulus/internal/model"
)

// CurrentVersion is the schema version written by Flatten.
//
// Version 1 stored the text fields as JSON strings, which replaces invalid
// UTF-8 on encode. Version 2 stores them as base64 bytes. Both decode.
const CurrentVersion uint16 = 2

// Persistence errors. Both are recoverable and reported to the caller.
var (
	ErrSerialization   = errors.New("serialization error")
	ErrDeserialization = errors.New("deserialization error")
)

type payloadV1 struct {
	ID            uint64       `json:"id"`
	Src           *string      `json:"src"`
	VenvPath      *string      `json:"venv_path"`
	LastKnownPath *string      `json:"last_known_path"`
	ShowDebug     bool         `json:"show_debug,omitempty"`
	ActiveJob     *model.JobID `json:"active_job,omitempty"`
}

// payloadV2 carries the text fields as raw bytes. A nil pointer is an unset
// field; a pointer to an empty slice is an empty one.
type payloadV2 struct {
	ID            uint64       `json:"id"`
	Src           *[]byte      `json:"src"`
	VenvPath      *[]byte      `json:"venv_path"`
	LastKnownPath *[]byte      `json:"last_known_path"`
	ShowDebug     bool         `json:"show_debug,omitempty"`
	ActiveJob     *model.JobID `json:"active_job,omitempty"`
}

func toBytes(s *string) *[]byte {
	if s == nil {
		return nil
	}
	b := []byte(*s)
	return &b
}

func fromBytes(b *[]byte) *string {
	if b == nil {
		return nil
	}
	s := string(*b)
	return &s
}

// Flatten encodes inst for host storage.
func Flatten(inst *Instance) (uint16, []byte, error) {
	if inst == nil {
		return 0, nil, fmt.Errorf("%w: nil instance", ErrSerialization)
	}
	out, err := json.Marshal(payloadV2{
		ID:            uint64(inst.ID),
		Src:           toBytes(inst.Src),
		VenvPath:      toBytes(inst.VenvPath),
		LastKnownPath: toBytes(inst.LastKnownPath),
		ShowDebug:     inst.ShowDebug,
		ActiveJob:     inst.ActiveJob,
	})
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return CurrentVersion, out, nil
}

// Unflatten decodes data written by Flatten under version.
func Unflatten(version uint16, data []byte) (*Instance, error) {
	switch version {
	case 1:
		var p payloadV1
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: version 1: %v", ErrDeserialization, err)
		}
		return &Instance{
			ID:            model.InstanceID(p.ID),
			Src:           p.Src,
			VenvPath:      p.VenvPath,
			LastKnownPath: p.LastKnownPath,
			ShowDebug:     p.ShowDebug,
			ActiveJob:     p.ActiveJob,
		}, nil
	case 2:
		var p payloadV2
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: version 2: %v", ErrDeserialization, err)
		}
		return &Instance{
			ID:            model.InstanceID(p.ID),
			Src:           fromBytes(p.Src),
			VenvPath:      fromBytes(p.VenvPath),
			LastKnownPath: fromBytes(p.LastKnownPath),
			ShowDebug:     p.ShowDebug,
			ActiveJob:     p.ActiveJob,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown version %d", ErrDeserialization, version)
	}
}
