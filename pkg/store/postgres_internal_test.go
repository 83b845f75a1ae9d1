package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeUTF8(t *testing.T) {
	assert.Equal(t, "plain text", sanitizeUTF8("plain text"))
	assert.Equal(t, "café", sanitizeUTF8("café"))
	assert.Equal(t, "ab", sanitizeUTF8("a\xff\xfeb"))
	assert.Equal(t, "pizza", sanitizeUTF8("piz\xc3za"))
}
