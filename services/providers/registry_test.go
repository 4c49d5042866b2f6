package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/ip-broker/services"
)

func TestNewRegistry(t *testing.T) {
	t.Run("keeps configuration order", func(t *testing.T) {
		r, err := NewRegistry([]Descriptor{
			validDescriptor("IpInfo", 2),
			validDescriptor("IpApi", 3),
			validDescriptor("IpData", 2),
		}, newFakeClock())
		require.NoError(t, err)

		assert.Equal(t, 3, r.Count())
		assert.Equal(t, []string{"IpInfo", "IpApi", "IpData"}, r.Names())

		list := r.List()
		require.Len(t, list, 3)
		assert.Equal(t, "IpApi", list[1].Name())
	})

	t.Run("rejects duplicate names", func(t *testing.T) {
		r, err := NewRegistry([]Descriptor{
			validDescriptor("IpInfo", 2),
			validDescriptor("IpInfo", 5),
		}, nil)
		require.Error(t, err)
		assert.Nil(t, r)
		assert.True(t, services.IsConflictError(err))
		assert.ErrorIs(t, err, services.ErrDuplicateProvider)
		assert.Equal(t, "IpInfo", services.ProviderName(err))
	})

	t.Run("rejects non-positive limits", func(t *testing.T) {
		_, err := NewRegistry([]Descriptor{validDescriptor("IpInfo", 0)}, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, services.ErrInvalidProviderConfig)
	})

	t.Run("rejects an empty set", func(t *testing.T) {
		_, err := NewRegistry(nil, nil)
		require.Error(t, err)
		assert.True(t, services.IsValidationError(err))
	})
}

func TestRegistry_Get(t *testing.T) {
	r, err := NewRegistry([]Descriptor{validDescriptor("IpInfo", 2)}, nil)
	require.NoError(t, err)

	m, err := r.Get("IpInfo")
	require.NoError(t, err)
	assert.Equal(t, 2, m.Descriptor().MaxRequestsPerMinute)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, services.ErrProviderNotFound)
}

func TestRegistry_ListIsACopy(t *testing.T) {
	r, err := NewRegistry([]Descriptor{validDescriptor("IpInfo", 2), validDescriptor("IpApi", 2)}, nil)
	require.NoError(t, err)

	list := r.List()
	list[0] = nil

	assert.NotNil(t, r.List()[0])
}
