package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveFetchDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)

	handle, err := store.Save("certificates/year-1/doc-1.pdf", []byte("%PDF"))
	require.NoError(t, err)
	require.Equal(t, "certificates/year-1/doc-1.pdf", handle)

	data, err := store.Fetch(handle)
	require.NoError(t, err)
	require.Equal(t, []byte("%PDF"), data)

	_, err = os.Stat(filepath.Join(dir, "certificates", "year-1", "doc-1.pdf.tmp"))
	require.True(t, os.IsNotExist(err))

	require.NoError(t, store.Delete(handle))
	require.NoError(t, store.Delete(handle))
	_, err = store.Fetch(handle)
	require.Error(t, err)
}

func TestLocalStorageRejectsEscapingHandles(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save("../outside.pdf", []byte("x"))
	require.Error(t, err)
	_, err = store.Fetch("/etc/passwd")
	require.Error(t, err)
	require.Error(t, store.Delete(""))
}
