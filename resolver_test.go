package payload

import (
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/payload/internal/testutil"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	arc := loadImage(t, map[string]string{
		"lib/init.ext": "archived init",
		"lib/core.ext": "archived core",
	}, nil)

	fallback := fstest.MapFS{
		"lib/init.ext":  {Data: []byte("shadowed by archive")},
		"lib/extra.ext": {Data: []byte("fallback extra")},
		"user/app.ext":  {Data: []byte("user script")},
	}
	return NewResolver(arc, ResolverWithFallbackFS(fallback))
}

func TestResolverArchiveWins(t *testing.T) {
	r := newTestResolver(t)

	got, err := r.ReadFile("lib/init.ext")
	require.NoError(t, err)
	assert.Equal(t, "archived init", string(got))
}

func TestResolverFallbackServesUnpackagedPaths(t *testing.T) {
	r := newTestResolver(t)

	got, err := r.ReadFile("user/app.ext")
	require.NoError(t, err)
	assert.Equal(t, "user script", string(got))
}

func TestResolverNormalizesLookups(t *testing.T) {
	r := newTestResolver(t)

	for _, name := range []string{
		"/lib/init.ext",
		"lib/init.ext/",
		"lib//init.ext",
		"lib/./init.ext",
		"lib/sub/../init.ext",
	} {
		got, err := r.ReadFile(name)
		require.NoError(t, err, name)
		assert.Equal(t, "archived init", string(got), name)
	}
}

func TestResolverRejectsEscapes(t *testing.T) {
	r := newTestResolver(t)

	for _, name := range []string{"..", "../etc/passwd", "lib/../../etc"} {
		_, err := r.ReadFile(name)
		assert.ErrorIs(t, err, ErrPathEscape, name)
		assert.False(t, r.Exists(name), name)
	}
}

func TestResolverListingsNeverMerge(t *testing.T) {
	r := newTestResolver(t)

	// The archive owns lib/, so its listing hides the fallback's
	// lib/extra.ext even though a direct read still reaches it.
	names, err := r.ListDir("lib")
	require.NoError(t, err)
	assert.Equal(t, []string{"core.ext", "init.ext"}, names)

	got, err := r.ReadFile("lib/extra.ext")
	require.NoError(t, err)
	assert.Equal(t, "fallback extra", string(got))

	// user/ exists only in the fallback layer.
	names, err = r.ListDir("user")
	require.NoError(t, err)
	assert.Equal(t, []string{"app.ext"}, names)
}

func TestResolverExistsAndIsDir(t *testing.T) {
	r := newTestResolver(t)

	assert.True(t, r.Exists("lib/init.ext"))
	assert.True(t, r.Exists("user/app.ext"))
	assert.True(t, r.Exists("lib"))
	assert.True(t, r.Exists("user"))
	assert.False(t, r.Exists("nope"))

	assert.True(t, r.IsDir("lib"))
	assert.True(t, r.IsDir("user"))
	assert.False(t, r.IsDir("lib/init.ext"))
	assert.False(t, r.IsDir("user/app.ext"))
}

func TestResolverStat(t *testing.T) {
	r := newTestResolver(t)

	info, err := r.Stat("lib/init.ext")
	require.NoError(t, err)
	assert.Equal(t, int64(len("archived init")), info.Size())

	info, err = r.Stat("user/app.ext")
	require.NoError(t, err)
	assert.Equal(t, int64(len("user script")), info.Size())

	_, err = r.Stat("missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestResolverArchiveOnly(t *testing.T) {
	arc := loadImage(t, map[string]string{"lib/a.ext": "a"}, nil)
	r := NewResolver(arc)

	got, err := r.ReadFile("lib/a.ext")
	require.NoError(t, err)
	assert.Equal(t, "a", string(got))

	_, err = r.ReadFile("missing.ext")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	_, err = r.ReadDir("missing")
	assert.Error(t, err)
}

func TestResolverFallbackOnly(t *testing.T) {
	// The shape of an unpackaged development run: no archive at all.
	dir := testutil.WriteTree(t, map[string]string{"lib/init.ext": "dev copy"})
	r := NewResolver(nil, ResolverWithFallbackDir(dir))

	got, err := r.ReadFile("lib/init.ext")
	require.NoError(t, err)
	assert.Equal(t, "dev copy", string(got))

	assert.True(t, r.IsDir("lib"))
	names, err := r.ListDir("lib")
	require.NoError(t, err)
	assert.Equal(t, []string{"init.ext"}, names)

	_, err = r.ReadFile("missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestResolverOpen(t *testing.T) {
	r := newTestResolver(t)

	f, err := r.Open("lib/core.ext")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = r.Open("absent")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
