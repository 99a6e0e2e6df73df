package trailer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLastPageConfirmBits(t *testing.T) {
	p := &LastPage{}
	assert.False(t, p.IsCopyDone())
	assert.False(t, p.IsImageOK())

	p.MarkCopyDone()
	assert.True(t, p.IsCopyDone())
	assert.False(t, p.IsImageOK())

	p.MarkImageOK()
	assert.True(t, p.IsImageOK())

	p.ClearImageOK()
	assert.False(t, p.IsImageOK())
	// clearing ImageOK must not disturb CopyDone.
	assert.True(t, p.IsCopyDone())
}
