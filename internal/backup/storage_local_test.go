package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalStore(t *testing.T) *LocalArtifactStore {
	t.Helper()
	store, err := NewLocalArtifactStore(&LocalConfig{BasePath: filepath.Join(t.TempDir(), "artifacts")})
	require.NoError(t, err)
	return store
}

func TestNewLocalArtifactStore(t *testing.T) {
	tests := []struct {
		name    string
		config  *LocalConfig
		wantErr bool
	}{
		{"nil config", nil, true},
		{"creates directory", &LocalConfig{BasePath: filepath.Join(t.TempDir(), "a", "b")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewLocalArtifactStore(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			info, err := os.Stat(store.GetBasePath())
			require.NoError(t, err)
			assert.True(t, info.IsDir())
		})
	}
}

func TestLocalArtifactStore_PutGet(t *testing.T) {
	ctx := context.Background()
	store := newLocalStore(t)

	artifact, err := Seal([]byte("payload"), "k")
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "crm-backup-20240101-000000.htb", artifact))

	data, err := store.Get(ctx, "crm-backup-20240101-000000.htb")
	require.NoError(t, err)
	assert.Equal(t, artifact, data)

	info, err := os.Stat(filepath.Join(store.GetBasePath(), "crm-backup-20240101-000000.htb"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	entries, err := os.ReadDir(store.GetBasePath())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")
}

func TestLocalArtifactStore_Overwrite(t *testing.T) {
	ctx := context.Background()
	store := newLocalStore(t)

	require.NoError(t, store.Put(ctx, "a.htb", []byte("first")))
	require.NoError(t, store.Put(ctx, "a.htb", []byte("second")))

	data, err := store.Get(ctx, "a.htb")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)
}

func TestLocalArtifactStore_List(t *testing.T) {
	ctx := context.Background()
	store := newLocalStore(t)

	require.NoError(t, store.Put(ctx, "old.htb", []byte("1")))
	require.NoError(t, store.Put(ctx, "new.htb", []byte("22")))
	require.NoError(t, os.WriteFile(filepath.Join(store.GetBasePath(), "notes.txt"), []byte("x"), 0600))
	require.NoError(t, os.Mkdir(filepath.Join(store.GetBasePath(), "dir.htb"), 0750))

	older := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(store.GetBasePath(), "old.htb"), older, older))

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "new.htb", infos[0].Name)
	assert.Equal(t, int64(2), infos[0].Size)
	assert.Equal(t, "old.htb", infos[1].Name)
	assert.Equal(t, filepath.Join(store.GetBasePath(), "old.htb"), infos[1].Location)
}

func TestLocalArtifactStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := newLocalStore(t)

	require.NoError(t, store.Put(ctx, "a.htb", []byte("x")))
	require.NoError(t, store.Delete(ctx, "a.htb"))

	_, err := store.Get(ctx, "a.htb")
	assert.True(t, IsType(err, BackupErrorTypeNotFound))

	err = store.Delete(ctx, "a.htb")
	assert.True(t, IsType(err, BackupErrorTypeNotFound))
}

func TestLocalArtifactStore_RejectsPathTraversal(t *testing.T) {
	ctx := context.Background()
	store := newLocalStore(t)

	for _, name := range []string{"../escape.htb", "sub/dir.htb", `win\dir.htb`, "plain.json", ".htb"} {
		t.Run(name, func(t *testing.T) {
			assert.True(t, IsType(store.Put(ctx, name, []byte("x")), BackupErrorTypeValidation))
			_, err := store.Get(ctx, name)
			assert.True(t, IsType(err, BackupErrorTypeValidation))
			assert.True(t, IsType(store.Delete(ctx, name), BackupErrorTypeValidation))
		})
	}

	_, err := os.Stat(filepath.Join(filepath.Dir(store.GetBasePath()), "escape.htb"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalArtifactStore_HealthCheck(t *testing.T) {
	store := newLocalStore(t)
	require.NoError(t, store.HealthCheck(context.Background()))

	_, err := os.Stat(filepath.Join(store.GetBasePath(), ".health_check"))
	assert.True(t, os.IsNotExist(err))
}
