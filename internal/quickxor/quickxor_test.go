package quickxor

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Reference digests verified against rclone's quickxorhash implementation.
func TestKnownVectors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{"empty", []byte(""), "AAAAAAAAAAAAAAAAAAAAAAAAAAA="},
		{"hello", []byte("hello"), "aCgDG9jwBgAAAAAABQAAAAAAAAA="},
		{"hello world", []byte("hello world"), "aCgDG9jwBhDc4Q1yawMZAAAAAAA="},
		{"1000 zero bytes", make([]byte, 1000), "AAAAAAAAAAAAAAAA6AMAAAAAAAA="},
		{"1000 0xFF bytes", bytes.Repeat([]byte{0xFF}, 1000), "Yxvb2MY2trGNbWxj89jYOc5xjnM="},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SumBase64(tc.input))
		})
	}
}

func TestIncrementalWrite(t *testing.T) {
	input := make([]byte, 1024)
	for i := range input {
		input[i] = byte(i)
	}

	whole := New()
	_, err := whole.Write(input)
	require.NoError(t, err)

	// Writing in uneven pieces must produce the same digest.
	pieces := New()
	for _, n := range []int{1, 7, 63, 64, 65, 300, 1024 - 1 - 7 - 63 - 64 - 65 - 300} {
		_, err := pieces.Write(input[:n])
		require.NoError(t, err)
		input = input[n:]
	}

	assert.Equal(t, whole.Sum(nil), pieces.Sum(nil))
}

func TestSumDoesNotMutateState(t *testing.T) {
	h := New()
	_, err := h.Write([]byte("hello"))
	require.NoError(t, err)

	first := h.Sum(nil)
	second := h.Sum(nil)

	assert.Equal(t, first, second)
}

func TestResetRestoresInitialState(t *testing.T) {
	h := New()
	_, err := h.Write([]byte("garbage"))
	require.NoError(t, err)

	h.Reset()

	assert.Equal(t, base64.StdEncoding.EncodeToString(h.Sum(nil)),
		"AAAAAAAAAAAAAAAAAAAAAAAAAAA=")
}

func TestSizeAndBlockSize(t *testing.T) {
	h := New()
	assert.Equal(t, Size, h.Size())
	assert.Equal(t, BlockSize, h.BlockSize())
}
