package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macdb/internal/prefix"
	"macdb/internal/vendor"
)

func TestFindByAddressForms(t *testing.T) {
	ctx := context.Background()
	_, path := newCache(t)
	rc, err := OpenRead(ctx, path)
	require.NoError(t, err)
	defer rc.Close()

	forms := []string{
		"00:00:0C",
		"00:00:0C:12:3",
		"00:00:0C:12:34:56",
		"00000C",
		"00000C123",
		"00000C123456",
		"00:::00::::0C",
		"00000c",
		"00:00:0c:12:34:56",
	}
	for _, addr := range forms {
		got, err := rc.FindByAddress(ctx, addr)
		require.NoError(t, err, addr)
		require.Len(t, got, 1, addr)
		assert.Equal(t, "Cisco Systems, Inc", got[0].Name, addr)
	}
}

func TestFindByAddressErrors(t *testing.T) {
	ctx := context.Background()
	wc, _ := newCache(t)

	tests := []struct {
		addr string
		err  error
	}{
		{"", prefix.ErrAddressEmpty},
		{"::::::::::::", prefix.ErrAddressEmpty},
		{"0000c", prefix.ErrAddressTooShort},
		{"0c", prefix.ErrAddressTooShort},
		{"c", prefix.ErrAddressTooShort},
		{"01234x", prefix.ErrAddressInvalid},
	}
	for _, tc := range tests {
		t.Run(tc.addr, func(t *testing.T) {
			got, err := wc.FindByAddress(ctx, tc.addr)
			require.ErrorIs(t, err, tc.err)
			assert.Nil(t, got)
			var ae *prefix.AddressError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tc.addr, ae.Input)
		})
	}

	_, err := wc.FindByAddress(ctx)
	assert.ErrorIs(t, err, ErrNoQuery)
}

func TestFindByAddressBlocks(t *testing.T) {
	ctx := context.Background()
	wc, _ := newCache(t)

	got, err := wc.FindByAddress(ctx, "5C:F2:86:D1:23:45")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(0x5CF286D), got[0].Prefix)
	assert.Equal(t, vendor.RegistryMAM, got[0].Block)

	got, err = wc.FindByAddress(ctx, "8C:1F:64:FF:C1:23")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Invendis Technologies India Pvt Ltd", got[0].Name)

	got, err = wc.FindByAddress(ctx, "FF:FF:FF")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFindByAddressUnionDedup(t *testing.T) {
	ctx := context.Background()
	wc, _ := newCache(t)

	got, err := wc.FindByAddress(ctx, "8C1F64FFC123", "00:00:0C:11:22:33", "00000C", "00:48:54")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{0x00000C, 0x004854, 0x8C1F64FFC},
		[]uint64{got[0].Prefix, got[1].Prefix, got[2].Prefix})
	assert.True(t, got[1].Private)
	assert.Empty(t, got[1].Name)
}

func TestFindByAddressReusesStatements(t *testing.T) {
	ctx := context.Background()
	wc, _ := newCache(t)

	for _, addr := range []string{"00:00:0C", "00:48:54", "00:00:0C:12", "00:00:0C:12:34"} {
		_, err := wc.FindByAddress(ctx, addr)
		require.NoError(t, err)
	}
	wc.mu.Lock()
	defer wc.mu.Unlock()
	assert.Len(t, wc.stmts, 3)
}

func TestFindByName(t *testing.T) {
	ctx := context.Background()
	wc, _ := newCache(t)

	for _, q := range []string{"cisco sys", "CiScO SYS", "Systems"} {
		got, err := wc.FindByName(ctx, q)
		require.NoError(t, err, q)
		require.Len(t, got, 1, q)
		assert.Equal(t, uint64(0x00000C), got[0].Prefix, q)
	}

	got, err := wc.FindByName(ctx, "DIG_LINK")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "DIG_LINK", got[0].Name)

	got, err = wc.FindByName(ctx, "100%")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "100% Networks", got[0].Name)

	got, err = wc.FindByName(ctx, `"HEIFENG"`)
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = wc.FindByName(ctx, `\`)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = wc.FindByName(ctx, "docker")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Private)
}

func TestFindByNameCaseFoldingIsASCIIOnly(t *testing.T) {
	ctx := context.Background()
	wc, _ := newCache(t)

	got, err := wc.FindByName(ctx, "ÉCOLE")
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = wc.FindByName(ctx, "école")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFindByNameMultiple(t *testing.T) {
	ctx := context.Background()
	wc, _ := newCache(t)

	got, err := wc.FindByName(ctx, "cisco", "systems", "invendis")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(0x00000C), got[0].Prefix)
	assert.Equal(t, uint64(0x8C1F64FFC), got[1].Prefix)

	_, err = wc.FindByName(ctx, "cisco", "  ")
	assert.ErrorIs(t, err, ErrEmptyName)
	_, err = wc.FindByName(ctx)
	assert.ErrorIs(t, err, ErrNoQuery)
}
