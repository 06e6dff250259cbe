package host

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	registerOnce sync.Once
	registeredID atomic.Int32
	registered   atomic.Bool
)

// Register records the id the host assigned to the plugin at global setup.
// The first call wins for the life of the process. Registering the same id
// again is allowed; a different id returns ErrAlreadyRegistered.
func Register(id int32) error {
	registerOnce.Do(func() {
		registeredID.Store(id)
		registered.Store(true)
	})
	if cur := registeredID.Load(); cur != id {
		return fmt.Errorf("%w: have %d, got %d", ErrAlreadyRegistered, cur, id)
	}
	return nil
}

// RegistrationID returns the registered plugin id.
func RegistrationID() (int32, bool) {
	if !registered.Load() {
		return 0, false
	}
	return registeredID.Load(), true
}
