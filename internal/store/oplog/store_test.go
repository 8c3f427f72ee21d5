package oplog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestLog(t *testing.T) *Store {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "oplog.db"))
	if err != nil {
		t.Fatalf("open oplog: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestAppendAndList(t *testing.T) {
	ctx := context.Background()
	st := newTestLog(t)

	assert.NoError(t, st.Append(ctx, "info", "ETH/USDT~BTC/USDT", "entry_signal", "entering"))
	assert.NoError(t, st.Append(ctx, "warn", "ETH/USDT~BTC/USDT", "partial_remedy", "remedy 1/3"))
	assert.NoError(t, st.Append(ctx, "error", "SOL/USDT~ETH/USDT", "residual_exposure", "halted"))

	entries, err := st.List(ctx, Query{})
	assert.NoError(t, err)
	if assert.Len(t, entries, 3) {
		assert.Equal(t, "halted", entries[0].Message, "newest first")
		assert.Equal(t, "entering", entries[2].Message)
	}
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	st := newTestLog(t)

	assert.NoError(t, st.Append(ctx, "info", "A~B", "c1", "m1"))
	assert.NoError(t, st.Append(ctx, "error", "A~B", "c2", "m2"))
	assert.NoError(t, st.Append(ctx, "error", "C~D", "c3", "m3"))

	byPair, err := st.List(ctx, Query{PairID: "A~B"})
	assert.NoError(t, err)
	assert.Len(t, byPair, 2)

	byLevel, err := st.List(ctx, Query{Level: "error"})
	assert.NoError(t, err)
	assert.Len(t, byLevel, 2)

	both, err := st.List(ctx, Query{PairID: "A~B", Level: "error"})
	assert.NoError(t, err)
	if assert.Len(t, both, 1) {
		assert.Equal(t, "m2", both[0].Message)
	}
}

func TestListPagination(t *testing.T) {
	ctx := context.Background()
	st := newTestLog(t)

	for i := 0; i < 5; i++ {
		assert.NoError(t, st.Append(ctx, "info", "", "", "msg"))
	}
	page, err := st.List(ctx, Query{Limit: 2, Offset: 2})
	assert.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestNilAndClosedStore(t *testing.T) {
	ctx := context.Background()
	var nilStore *Store
	assert.NoError(t, nilStore.Append(ctx, "info", "", "", "dropped"))
	entries, err := nilStore.List(ctx, Query{})
	assert.NoError(t, err)
	assert.Nil(t, entries)

	st := newTestLog(t)
	assert.NoError(t, st.Close())
	assert.Error(t, st.Append(ctx, "info", "", "", "late"))
	assert.NoError(t, st.Close(), "double close is fine")
}
