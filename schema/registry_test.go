package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()

	r := NewBuilder("products", "products").Column("id", TypeUUID).MustResource()
	require.NoError(t, reg.Register(r))

	got, ok := reg.Get("products")
	assert.True(t, ok)
	assert.Same(t, r, got)

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestRegistryDuplicateName(t *testing.T) {
	reg := NewRegistry()

	r := NewBuilder("products", "products").Column("id", TypeUUID).MustResource()
	require.NoError(t, reg.Register(r))

	err := reg.Register(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistryNamesSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"orders", "customers", "products"} {
		r := NewBuilder(name, name).Column("id", TypeUUID).MustResource()
		require.NoError(t, reg.Register(r))
	}

	assert.Equal(t, []string{"customers", "orders", "products"}, reg.Names())
}
