package backup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattzcarey/sandbox-mcp/internal/objectstore"
	"github.com/mattzcarey/sandbox-mcp/internal/objectstore/memory"
	"github.com/mattzcarey/sandbox-mcp/internal/sandbox"
	"github.com/mattzcarey/sandbox-mcp/internal/storekey"
)

func TestBackupStoresArchiveAndRemovesTempFile(t *testing.T) {
	h := sandbox.NewFakeHandle()
	h.SeedFile("/tmp/opencode-storage.tar.gz", []byte("fake-archive-bytes"))
	objects := memory.New()

	result, err := Backup(context.Background(), h, objects, "sess-1")
	require.NoError(t, err)
	assert.True(t, result.Archived)

	stored, err := objects.Get(context.Background(), storekey.SessionBackup("sess-1"))
	require.NoError(t, err)
	assert.Equal(t, "fake-archive-bytes", string(stored.Body))

	removed := false
	for _, cmd := range h.Commands {
		if len(cmd) > 0 && cmd[0] == "rm" {
			removed = true
		}
	}
	assert.True(t, removed, "expected a rm command to have run")
}

func TestBackupNoArchiveWhenTarProducedNothing(t *testing.T) {
	h := sandbox.NewFakeHandle()
	objects := memory.New()

	result, err := Backup(context.Background(), h, objects, "sess-1")
	require.NoError(t, err)
	assert.False(t, result.Archived)

	_, err = objects.Get(context.Background(), storekey.SessionBackup("sess-1"))
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestBackupPropagatesTarFailure(t *testing.T) {
	h := sandbox.NewFakeHandle()
	h.FailExec = assertErr{"tar exploded"}
	objects := memory.New()

	_, err := Backup(context.Background(), h, objects, "sess-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tar exploded")
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
