package namestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const addr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "names.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetAndLookup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, addr, "Grid Ops"))
	assert.Equal(t, "Grid Ops", s.DisplayName(addr))

	// Lookup is case-insensitive on the address.
	assert.Equal(t, "Grid Ops", s.DisplayName("0xF39FD6E51AAD88F6F4CE6AB8827279CFFFB92266"))

	// Upsert replaces.
	require.NoError(t, s.Set(ctx, addr, "Registry Desk"))
	assert.Equal(t, "Registry Desk", s.DisplayName(addr))
}

func TestFallbackName(t *testing.T) {
	s := openTestStore(t)

	assert.Equal(t, "Admin 0xf39F…2266", s.DisplayName(addr))
	assert.Equal(t, "Admin 0xf39F…2266", FallbackName(addr))
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, addr, "Grid Ops"))
	require.NoError(t, s.Delete(ctx, addr))
	assert.Equal(t, FallbackName(addr), s.DisplayName(addr))
}

func TestSetRejectsEmptyName(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.Set(context.Background(), addr, "   "))
}
