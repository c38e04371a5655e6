package lookup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macdb/internal/vendor"
)

type fakeFinder struct {
	gen   string
	calls int
	err   error
}

func (f *fakeFinder) FindByAddress(ctx context.Context, addrs ...string) ([]vendor.Vendor, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []vendor.Vendor{{Prefix: 0x00000C, Name: "Cisco Systems, Inc", Block: vendor.RegistryMAL}}, nil
}

func (f *fakeFinder) FindByName(ctx context.Context, names ...string) ([]vendor.Vendor, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []vendor.Vendor{{Prefix: 0x004854, Private: true}}, nil
}

func (f *fakeFinder) Generation() string { return f.gen }

type mapMemo struct {
	mu   sync.Mutex
	m    map[string]string
	fail bool
}

func (m *mapMemo) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return "", errors.New("connection refused")
	}
	v, ok := m.m[key]
	if !ok {
		return "", ErrMiss
	}
	return v, nil
}

func (m *mapMemo) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("connection refused")
	}
	m.m[key] = val
	return nil
}

func TestServiceWithoutMemo(t *testing.T) {
	f := &fakeFinder{gen: "g1"}
	s := New(f, nil, 0)

	got, err := s.ByAddress(context.Background(), "00:00:0C")
	require.NoError(t, err)
	require.Len(t, got, 1)
	_, err = s.ByAddress(context.Background(), "00:00:0C")
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
}

func TestServiceMemoHit(t *testing.T) {
	ctx := context.Background()
	f := &fakeFinder{gen: "g1"}
	memo := &mapMemo{m: map[string]string{}}
	s := New(f, memo, time.Minute)

	first, err := s.ByAddress(ctx, "00:00:0c:12:34:56")
	require.NoError(t, err)
	second, err := s.ByAddress(ctx, "00-00-0C-12-34-56")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.calls)
	assert.Contains(t, memo.m, "macdb:g1:address:00000C123456")

	priv, err := s.ByName(ctx, "whatever")
	require.NoError(t, err)
	assert.True(t, priv[0].Private)
	assert.Equal(t, 2, f.calls)
}

func TestServiceGenerationInvalidates(t *testing.T) {
	ctx := context.Background()
	f := &fakeFinder{gen: "g1"}
	s := New(f, &mapMemo{m: map[string]string{}}, time.Minute)

	_, err := s.ByName(ctx, "cisco")
	require.NoError(t, err)
	f.gen = "g2"
	_, err = s.ByName(ctx, "cisco")
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
}

func TestServiceMemoFailureIgnored(t *testing.T) {
	f := &fakeFinder{gen: "g1"}
	s := New(f, &mapMemo{m: map[string]string{}, fail: true}, time.Minute)

	got, err := s.ByName(context.Background(), "cisco")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestServiceErrorNotMemoized(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	f := &fakeFinder{gen: "g1", err: boom}
	memo := &mapMemo{m: map[string]string{}}
	s := New(f, memo, time.Minute)

	_, err := s.ByAddress(ctx, "00:00:0C")
	require.ErrorIs(t, err, boom)
	assert.Empty(t, memo.m)
}

func TestNewRedisMemoNil(t *testing.T) {
	assert.Nil(t, NewRedisMemo(nil))
}
