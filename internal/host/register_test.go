package host_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AppMana/golobulus/internal/host"
)

// testRegistrationID is the id every test in this package registers with.
const testRegistrationID = 7

func TestRegisterOnce(t *testing.T) {
	require.NoError(t, host.Register(testRegistrationID))
	require.NoError(t, host.Register(testRegistrationID), "same id may be registered again")

	err := host.Register(testRegistrationID + 1)
	require.ErrorIs(t, err, host.ErrAlreadyRegistered)

	id, ok := host.RegistrationID()
	require.True(t, ok)
	require.Equal(t, int32(testRegistrationID), id)
}
