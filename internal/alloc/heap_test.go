package alloc

import (
	"math/rand"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-usbip/internal/errs"
)

func offsetOf(pool, p []byte) int {
	return int(uintptr(unsafe.Pointer(&p[0])) - uintptr(unsafe.Pointer(&pool[0])))
}

func TestNewHeap_Validation(t *testing.T) {
	pool := make([]byte, 512)

	tests := []struct {
		name      string
		pool      []byte
		alignment int
	}{
		{"alignment below two", pool, 1},
		{"alignment not power of two", pool, 6},
		{"misaligned pool", pool[1:], 4},
		{"pool too small", pool[:HeaderSize], 4},
		{"empty pool", nil, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHeap(tt.pool, tt.alignment)
			assert.Nil(t, h)
			assert.ErrorIs(t, err, errs.ErrInvalidArgument)
		})
	}
}

func TestHeap_CoalesceReusesFirstBlock(t *testing.T) {
	pool := make([]byte, 512)
	h, err := NewHeap(pool, 4)
	require.NoError(t, err)

	one, err := h.Alloc(4)
	require.NoError(t, err)
	two, err := h.Alloc(4)
	require.NoError(t, err)
	_, err = h.Alloc(4)
	require.NoError(t, err)

	require.NoError(t, h.Free(one))
	require.NoError(t, h.Free(two))

	merged, err := h.Alloc(8)
	require.NoError(t, err)
	assert.Equal(t, offsetOf(pool, one), offsetOf(pool, merged))
	assert.Len(t, merged, 8)
}

func TestHeap_FreeMergesSuccessor(t *testing.T) {
	pool := make([]byte, 512)
	h, err := NewHeap(pool, 4)
	require.NoError(t, err)

	one, _ := h.Alloc(4)
	two, _ := h.Alloc(4)
	_, _ = h.Alloc(4)
	before := h.Stats().Blocks

	// two is freed first, so freeing one absorbs it immediately
	require.NoError(t, h.Free(two))
	require.NoError(t, h.Free(one))
	assert.Equal(t, before-1, h.Stats().Blocks)
}

func TestHeap_SplitAndLayout(t *testing.T) {
	pool := make([]byte, 512)
	h, err := NewHeap(pool, 4)
	require.NoError(t, err)

	a, _ := h.Alloc(4)
	b, _ := h.Alloc(3)
	c, _ := h.Alloc(4)

	assert.Equal(t, HeaderSize, offsetOf(pool, a))
	assert.Equal(t, 2*HeaderSize+4, offsetOf(pool, b))
	assert.Equal(t, 3*HeaderSize+8, offsetOf(pool, c))
	assert.Len(t, b, 3)
}

func TestHeap_OutOfMemory(t *testing.T) {
	pool := make([]byte, 128)
	h, err := NewHeap(pool, 8)
	require.NoError(t, err)

	_, err = h.Alloc(128)
	assert.ErrorIs(t, err, errs.ErrOutOfMemory)

	whole, err := h.Alloc(128 - HeaderSize)
	require.NoError(t, err)
	_, err = h.Alloc(1)
	assert.ErrorIs(t, err, errs.ErrOutOfMemory)

	require.NoError(t, h.Free(whole))
	_, err = h.Alloc(1)
	assert.NoError(t, err)
}

func TestHeap_FreeErrors(t *testing.T) {
	pool := make([]byte, 256)
	h, err := NewHeap(pool, 4)
	require.NoError(t, err)

	p, err := h.Alloc(16)
	require.NoError(t, err)

	assert.ErrorIs(t, h.Free(nil), errs.ErrInvalidArgument)
	assert.ErrorIs(t, h.Free(make([]byte, 4)), errs.ErrInvalidArgument)
	assert.ErrorIs(t, h.Free(pool[HeaderSize+1:HeaderSize+2]), errs.ErrInvalidArgument)

	require.NoError(t, h.Free(p))
	assert.ErrorIs(t, h.Free(p), errs.ErrInvalidArgument)
	assert.ErrorIs(t, func() error { _, err := h.Alloc(0); return err }(), errs.ErrInvalidArgument)
}

func TestHeap_RandomNoOverlap(t *testing.T) {
	const poolSize = 4096
	pool := make([]byte, poolSize)
	h, err := NewHeap(pool, 8)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	live := map[int][]byte{}

	for i := 0; i < 5000; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			for off, p := range live {
				require.NoError(t, h.Free(p))
				delete(live, off)
				break
			}
			continue
		}

		p, err := h.Alloc(1 + rng.Intn(200))
		if err != nil {
			require.ErrorIs(t, err, errs.ErrOutOfMemory)
			continue
		}
		off := offsetOf(pool, p)
		for o, q := range live {
			assert.False(t, off < o+cap(q) && o < off+cap(p), "allocation at %d overlaps %d", off, o)
		}
		live[off] = p

		total := 0
		for _, q := range live {
			total += cap(q)
		}
		assert.LessOrEqual(t, total, poolSize-HeaderSize)
	}
}
