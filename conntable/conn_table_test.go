package conntable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-broadcast/framer"
)

func ids(seq func(func(*Connection) bool)) []int {
	var out []int
	for conn := range seq {
		out = append(out, conn.ID)
	}
	return out
}

func TestNewTable(t *testing.T) {
	t.Run("empty table", func(t *testing.T) {
		tbl := NewTable(64)
		require.NotNil(t, tbl)
		assert.Equal(t, 0, tbl.Len())
		assert.Equal(t, uint32(0), tbl.Accepted())
	})

	t.Run("non-positive capacity uses framer default", func(t *testing.T) {
		tbl := NewTable(0)
		conn, err := tbl.Allocate(3, "")
		require.NoError(t, err)
		assert.Equal(t, framer.DefaultInitialCapacity, conn.Recv.Cap())
	})
}

func TestTable_Allocate(t *testing.T) {
	t.Run("new connection has empty buffer of initial capacity", func(t *testing.T) {
		tbl := NewTable(32)
		conn, err := tbl.Allocate(7, "127.0.0.1:5000")
		require.NoError(t, err)
		assert.Equal(t, 7, conn.ID)
		assert.Equal(t, "127.0.0.1:5000", conn.RemoteAddr)
		assert.Equal(t, 32, conn.Recv.Cap())
		assert.Equal(t, 0, conn.Recv.Len())
		assert.Equal(t, 0, conn.MessagesSent)
		assert.False(t, conn.ConnectedAt.IsZero())
		assert.Equal(t, 1, tbl.Len())
	})

	t.Run("duplicate id is rejected", func(t *testing.T) {
		tbl := NewTable(32)
		first, err := tbl.Allocate(7, "")
		require.NoError(t, err)

		_, err = tbl.Allocate(7, "")
		assert.ErrorIs(t, err, ErrAlreadyRegistered)

		got, err := tbl.Get(7)
		require.NoError(t, err)
		assert.Same(t, first, got)
	})

	t.Run("sequence numbers are not reused with the descriptor", func(t *testing.T) {
		tbl := NewTable(32)
		first, err := tbl.Allocate(5, "")
		require.NoError(t, err)
		require.True(t, tbl.Release(5))

		second, err := tbl.Allocate(5, "")
		require.NoError(t, err)
		assert.NotEqual(t, first.Seq, second.Seq)
		assert.Equal(t, uint32(2), tbl.Accepted())
	})
}

func TestTable_Get(t *testing.T) {
	tbl := NewTable(32)
	conn, err := tbl.Allocate(4, "")
	require.NoError(t, err)

	t.Run("returns open connection", func(t *testing.T) {
		got, err := tbl.Get(4)
		require.NoError(t, err)
		assert.Same(t, conn, got)
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		_, err := tbl.Get(99)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestTable_Release(t *testing.T) {
	t.Run("removes the entry and drops the buffer", func(t *testing.T) {
		tbl := NewTable(32)
		conn, err := tbl.Allocate(4, "")
		require.NoError(t, err)

		assert.True(t, tbl.Release(4))
		assert.Nil(t, conn.Recv)
		_, err = tbl.Get(4)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, 0, tbl.Len())
	})

	t.Run("double release is a no-op", func(t *testing.T) {
		tbl := NewTable(32)
		_, err := tbl.Allocate(4, "")
		require.NoError(t, err)

		assert.True(t, tbl.Release(4))
		assert.False(t, tbl.Release(4))
		assert.False(t, tbl.Release(12345))
	})
}

func TestTable_IterOther(t *testing.T) {
	newTable := func(t *testing.T, fds ...int) *Table {
		tbl := NewTable(8)
		for _, fd := range fds {
			_, err := tbl.Allocate(fd, "")
			require.NoError(t, err)
		}
		return tbl
	}

	t.Run("excludes the sender", func(t *testing.T) {
		tbl := newTable(t, 9, 5, 7, 6)
		assert.Equal(t, []int{5, 7, 9}, ids(tbl.IterOther(6)))
	})

	t.Run("n connections yield n-1 peers", func(t *testing.T) {
		tbl := newTable(t, 10, 11, 12, 13, 14)
		for fd := 10; fd <= 14; fd++ {
			got := ids(tbl.IterOther(fd))
			assert.Len(t, got, 4)
			assert.NotContains(t, got, fd)
		}
	})

	t.Run("unknown exclude yields everyone", func(t *testing.T) {
		tbl := newTable(t, 3, 4)
		assert.Equal(t, []int{3, 4}, ids(tbl.IterOther(-1)))
	})

	t.Run("empty and single connection tables yield nothing", func(t *testing.T) {
		assert.Empty(t, ids(NewTable(8).IterOther(1)))
		assert.Empty(t, ids(newTable(t, 1).IterOther(1)))
	})

	t.Run("restartable", func(t *testing.T) {
		tbl := newTable(t, 1, 2, 3)
		seq := tbl.IterOther(2)
		assert.Equal(t, []int{1, 3}, ids(seq))
		assert.Equal(t, []int{1, 3}, ids(seq))
	})

	t.Run("release during iteration skips released entries", func(t *testing.T) {
		tbl := newTable(t, 1, 2, 3, 4)
		var got []int
		for conn := range tbl.IterOther(1) {
			got = append(got, conn.ID)
			if conn.ID == 2 {
				tbl.Release(3)
			}
		}
		assert.Equal(t, []int{2, 4}, got)
	})

	t.Run("early break stops iteration", func(t *testing.T) {
		tbl := newTable(t, 1, 2, 3, 4)
		var got []int
		for conn := range tbl.IterOther(0) {
			got = append(got, conn.ID)
			if len(got) == 2 {
				break
			}
		}
		assert.Equal(t, []int{1, 2}, got)
	})

	t.Run("releasing the current and earlier entries keeps the walk in place", func(t *testing.T) {
		tbl := newTable(t, 1, 2, 3, 4, 5)
		var got []int
		for conn := range tbl.IterOther(0) {
			got = append(got, conn.ID)
			if conn.ID == 3 {
				tbl.Release(1)
				tbl.Release(3)
			}
		}
		assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
		assert.Equal(t, []int{2, 4, 5}, ids(tbl.IterOther(0)))
	})

	t.Run("reallocated descriptor keeps order", func(t *testing.T) {
		tbl := newTable(t, 8, 2, 5)
		tbl.Release(5)
		_, err := tbl.Allocate(5, "")
		require.NoError(t, err)
		assert.Equal(t, []int{2, 5, 8}, ids(tbl.IterOther(-1)))
	})

	t.Run("iteration does not allocate", func(t *testing.T) {
		tbl := newTable(t, 1, 2, 3, 4, 5, 6, 7, 8)
		seq := tbl.IterOther(4)
		visit := func(*Connection) bool { return true }
		allocs := testing.AllocsPerRun(100, func() { seq(visit) })
		assert.Zero(t, allocs)
	})
}
