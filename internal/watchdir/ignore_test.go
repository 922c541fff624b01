package watchdir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnoreList_Defaults(t *testing.T) {
	l := newIgnoreList(t.TempDir())
	l.Load()

	assert.True(t, l.Match("shot.png.part"))
	assert.True(t, l.Match("sub/archive.crdownload"))
	assert.True(t, l.Match(".DS_Store"))
	assert.True(t, l.Match(".git/objects/ab/cdef"))
	assert.True(t, l.Match(IgnoreFileName))

	assert.False(t, l.Match("shot.png"))
	assert.False(t, l.Match("sub/dir/photo.jpg"))
}

func TestIgnoreList_CustomRules(t *testing.T) {
	dir := t.TempDir()
	rules := "private/\n*.secret.png\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, IgnoreFileName), []byte(rules), 0o644))

	l := newIgnoreList(dir)
	l.Load()

	assert.True(t, l.Match("private/shot.png"))
	assert.True(t, l.Match("plan.secret.png"))
	assert.True(t, l.Match("shot.png.part"), "defaults still apply")
	assert.False(t, l.Match("public/shot.png"))
}

func TestIgnoreList_MissingFile(t *testing.T) {
	l := newIgnoreList(filepath.Join(t.TempDir(), "nope"))
	l.Load()

	assert.True(t, l.Match("x.tmp"))
	assert.False(t, l.Match("x.png"))
}
