package framer

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toStrings(msgs [][]byte) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m))
	}
	return out
}

func TestNewBuffer(t *testing.T) {
	t.Run("uses requested capacity", func(t *testing.T) {
		b := NewBuffer(16)
		assert.Equal(t, 16, b.Cap())
		assert.Equal(t, 0, b.Len())
		assert.Equal(t, 16, b.Free())
	})

	t.Run("non-positive capacity falls back to default", func(t *testing.T) {
		assert.Equal(t, DefaultInitialCapacity, NewBuffer(0).Cap())
		assert.Equal(t, DefaultInitialCapacity, NewBuffer(-5).Cap())
	})
}

func TestIngest(t *testing.T) {
	t.Run("three complete messages leave nothing behind", func(t *testing.T) {
		b := NewBuffer(0)
		got := Ingest(b, []byte("a\nb\nc\n"))
		assert.Equal(t, []string{"a", "b", "c"}, toStrings(got))
		assert.Equal(t, 0, b.Len())
	})

	t.Run("trailing partial message is retained", func(t *testing.T) {
		b := NewBuffer(0)
		got := Ingest(b, []byte("a\nb\nc"))
		assert.Equal(t, []string{"a", "b"}, toStrings(got))
		assert.Equal(t, []byte("c"), b.Bytes())

		got = Ingest(b, []byte("d\n"))
		assert.Equal(t, []string{"cd"}, toStrings(got))
		assert.Equal(t, 0, b.Len())
	})

	t.Run("consecutive delimiters yield empty messages", func(t *testing.T) {
		b := NewBuffer(0)
		got := Ingest(b, []byte("\n\n"))
		require.Len(t, got, 2)
		assert.Empty(t, got[0])
		assert.Empty(t, got[1])
	})

	t.Run("leading delimiter yields an empty message first", func(t *testing.T) {
		b := NewBuffer(0)
		got := Ingest(b, []byte("\nhello\n"))
		assert.Equal(t, []string{"", "hello"}, toStrings(got))
	})

	t.Run("no delimiter emits nothing", func(t *testing.T) {
		b := NewBuffer(0)
		assert.Nil(t, Ingest(b, []byte("partial")))
		assert.Equal(t, []byte("partial"), b.Bytes())
	})

	t.Run("empty input emits nothing", func(t *testing.T) {
		b := NewBuffer(0)
		assert.Nil(t, Ingest(b, nil))
		assert.Equal(t, 0, b.Len())
	})

	t.Run("bytes are relayed unchanged including NUL", func(t *testing.T) {
		b := NewBuffer(0)
		got := Ingest(b, []byte("a\x00b\xff\r\n"))
		require.Len(t, got, 1)
		assert.Equal(t, []byte("a\x00b\xff\r"), got[0])
	})

	t.Run("messages do not alias the buffer", func(t *testing.T) {
		b := NewBuffer(8)
		got := Ingest(b, []byte("abc\nxyz"))
		require.Len(t, got, 1)
		Ingest(b, []byte("123456\n"))
		assert.Equal(t, "abc", string(got[0]))
	})
}

func TestIngest_growth(t *testing.T) {
	t.Run("message longer than initial capacity is captured whole", func(t *testing.T) {
		b := NewBuffer(16)
		long := bytes.Repeat([]byte("0123456789"), 50)
		got := Ingest(b, append(append([]byte{}, long...), '\n'))
		require.Len(t, got, 1)
		assert.Equal(t, long, got[0])
	})

	t.Run("capacity doubles and never shrinks", func(t *testing.T) {
		b := NewBuffer(4)
		Ingest(b, []byte("abcd"))
		assert.Equal(t, 4, b.Cap())
		Ingest(b, []byte("e"))
		assert.Equal(t, 8, b.Cap())
		Ingest(b, []byte("fghij"))
		assert.Equal(t, 16, b.Cap())

		Ingest(b, []byte("\n"))
		assert.Equal(t, 0, b.Len())
		assert.Equal(t, 16, b.Cap())
	})

	t.Run("long message arriving in small reads", func(t *testing.T) {
		b := NewBuffer(2)
		long := bytes.Repeat([]byte("x"), 100)
		for _, c := range long {
			assert.Nil(t, Ingest(b, []byte{c}))
		}
		got := Ingest(b, []byte("\n"))
		require.Len(t, got, 1)
		assert.Equal(t, long, got[0])
		assert.Equal(t, 128, b.Cap())
	})
}

func TestIngest_fragmentation(t *testing.T) {
	stream := []byte("hello\n\nworld, this is a longer line\nx\ny\nz\ntail-without-newline")
	whole := toStrings(Ingest(NewBuffer(4), stream))

	t.Run("every single split point", func(t *testing.T) {
		for cut := 0; cut <= len(stream); cut++ {
			b := NewBuffer(4)
			got := toStrings(Ingest(b, stream[:cut]))
			got = append(got, toStrings(Ingest(b, stream[cut:]))...)
			assert.Equal(t, whole, got, "cut at %d", cut)
			assert.Equal(t, []byte("tail-without-newline"), b.Bytes())
		}
	})

	t.Run("random chunking", func(t *testing.T) {
		rng := rand.New(rand.NewSource(42))
		for round := 0; round < 200; round++ {
			b := NewBuffer(1 + rng.Intn(8))
			var got []string
			rest := stream
			for len(rest) > 0 {
				n := 1 + rng.Intn(len(rest))
				got = append(got, toStrings(Ingest(b, rest[:n]))...)
				rest = rest[n:]
			}
			assert.Equal(t, whole, got, "round %d", round)
		}
	})
}

func TestBuffer_ReserveCommit(t *testing.T) {
	t.Run("reserve only grows a full buffer", func(t *testing.T) {
		b := NewBuffer(4)
		free := b.Reserve()
		assert.Len(t, free, 4)
		copy(free, "ab")
		b.Commit(2)
		assert.Len(t, b.Reserve(), 2)
		assert.Equal(t, 4, b.Cap())

		copy(b.Reserve(), "cd")
		b.Commit(2)
		free = b.Reserve()
		assert.Equal(t, 8, b.Cap())
		assert.Len(t, free, 4)
		assert.Equal(t, []byte("abcd"), b.Bytes())
	})

	t.Run("commit past free space panics", func(t *testing.T) {
		b := NewBuffer(2)
		assert.Panics(t, func() { b.Commit(3) })
		assert.Panics(t, func() { b.Commit(-1) })
	})

	t.Run("frame after reserve and commit", func(t *testing.T) {
		b := NewBuffer(8)
		n := copy(b.Reserve(), "one\ntw")
		b.Commit(n)
		assert.Equal(t, []string{"one"}, toStrings(b.Frame()))
		assert.Equal(t, []byte("tw"), b.Bytes())
	})
}

func TestBuffer_Reset(t *testing.T) {
	b := NewBuffer(4)
	Ingest(b, []byte("abcdefgh"))
	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 8, b.Cap())
	assert.Equal(t, []string{"z"}, toStrings(Ingest(b, []byte("z\n"))))
}
