package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitAnnexBSplitsOnBothStartCodeLengths(t *testing.T) {
	data := []byte{0, 0, 0, 1, 0x65, 0xAA, 0, 0, 1, 0x41, 0xBB, 0xCC}
	nalus := splitAnnexB(data)
	if assert.Len(t, nalus, 2) {
		assert.Equal(t, []byte{0x65, 0xAA}, nalus[0])
		assert.Equal(t, []byte{0x41, 0xBB, 0xCC}, nalus[1])
	}
}

func TestSplitAnnexBNoStartCodeReturnsNil(t *testing.T) {
	assert.Nil(t, splitAnnexB([]byte{1, 2, 3}))
}
