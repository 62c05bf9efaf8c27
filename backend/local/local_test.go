package local_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"testing/iotest"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poolfs/poolfs/backend/btest"
	"github.com/poolfs/poolfs/backend/local"
	"github.com/poolfs/poolfs/store"
)

func TestBackendContract(t *testing.T) {
	b, err := local.New(t.TempDir())
	require.NoError(t, err)
	btest.Run(t, b)
}

func TestNewErrors(t *testing.T) {
	_, err := local.New("")
	require.Error(t, err)
	assert.Equal(t, store.ErrBadConfig, errors.Cause(err))
}

func TestRegistered(t *testing.T) {
	_, err := store.MakeBackend(context.Background(), "local", nil)
	require.Error(t, err, "root param is required")

	b, err := store.MakeBackend(context.Background(), "local", store.Params{"root": t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "local", b.Scheme())
}

func TestKeyEscapes(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	b, err := local.New(filepath.Join(root, "objects"))
	require.NoError(t, err)

	// a key trying to climb out of the root stays inside it
	require.NoError(t, b.Save(ctx, "../escaped", bytes.NewReader([]byte("x"))))
	_, err = os.Stat(filepath.Join(root, "escaped"))
	assert.True(t, os.IsNotExist(err), "object must not be written outside the root")
	_, err = os.Stat(filepath.Join(root, "objects", "escaped"))
	assert.NoError(t, err)

	// keys resolving to the root itself are rejected
	require.Error(t, b.Save(ctx, ".", bytes.NewReader([]byte("x"))))
	require.Error(t, b.Save(ctx, "..", bytes.NewReader([]byte("x"))))
}

func TestNestedKeys(t *testing.T) {
	ctx := context.Background()
	b, err := local.New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, b.Save(ctx, "a/b/c/deep.bin", bytes.NewReader([]byte("deep"))))

	in, err := b.Load(ctx, "a/b/c/deep.bin")
	require.NoError(t, err)
	got, err := store.ReadAll(in)
	require.NoError(t, err)
	assert.Equal(t, "deep", string(got))
}

func TestNoPartialsLeftBehind(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, err := local.New(dir)
	require.NoError(t, err)

	// a failing reader must not leave a visible or partial object
	require.Error(t, b.Save(ctx, "broken", iotest.ErrReader(io.ErrUnexpectedEOF)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 0)
}
