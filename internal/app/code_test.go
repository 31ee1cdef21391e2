package app

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomCode_UsesAlphabetAndLength(t *testing.T) {
	for _, length := range []int{amoeCodeLength, referralCodeLength} {
		code, err := randomCode(length)
		require.NoError(t, err)
		assert.Len(t, code, length)
		for _, ch := range code {
			assert.True(t, strings.ContainsRune(codeAlphabet, ch), "unexpected character %q", ch)
		}
	}
}

func TestRandomCodeFrom_RejectsBiasedBytes(t *testing.T) {
	// 0xFF and 0xF8 sit above the rejection limit and must be skipped.
	src := bytes.NewReader([]byte{0xFF, 0x00, 0xF8, 0x01, 0x1F, 0x02, 0x00, 0x00})
	code, err := randomCodeFrom(src, 3)
	require.NoError(t, err)
	assert.Equal(t, "ABA", code)
}

func TestRandomCodeFrom_ShortReader(t *testing.T) {
	_, err := randomCodeFrom(bytes.NewReader([]byte{0x00}), 4)
	assert.Error(t, err)
}
