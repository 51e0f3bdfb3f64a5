package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestState(t *testing.T) *StateStore {
	t.Helper()
	st, err := OpenState(filepath.Join(t.TempDir(), "state.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestStateStore_SinceIDMonotonic(t *testing.T) {
	st := setupTestState(t)

	id, err := st.SinceID()
	require.NoError(t, err)
	assert.Zero(t, id)

	require.NoError(t, st.SetSinceID(120))
	require.NoError(t, st.SetSinceID(80))

	id, err = st.SinceID()
	require.NoError(t, err)
	assert.Equal(t, 120, id)
}

func TestStateStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	st, err := OpenState(path, time.Second)
	require.NoError(t, err)

	sync := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.SetSinceID(42))
	require.NoError(t, st.SetLastSync(sync))
	require.NoError(t, st.SetLastCleanup(sync.Add(time.Hour)))
	require.NoError(t, st.Update(func(s *SyncState) {
		s.APILevel = 14
		s.ServerVersion = "21.07"
	}))
	require.NoError(t, st.Close())

	st, err = OpenState(path, time.Second)
	require.NoError(t, err)
	defer st.Close()

	loaded, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.SinceID)
	assert.True(t, sync.Equal(loaded.LastSync))
	assert.True(t, sync.Add(time.Hour).Equal(loaded.LastCleanup))
	assert.Equal(t, 14, loaded.APILevel)
	assert.Equal(t, "21.07", loaded.ServerVersion)
}

func TestStateStore_Prefs(t *testing.T) {
	st := setupTestState(t)

	_, found, err := st.Pref("FRESH_ARTICLE_MAX_AGE")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, st.SetPref("FRESH_ARTICLE_MAX_AGE", "36"))
	value, found, err := st.Pref("FRESH_ARTICLE_MAX_AGE")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "36", value)
}

func TestStateStore_IconMeta(t *testing.T) {
	st := setupTestState(t)

	meta, err := st.IconMeta(10)
	require.NoError(t, err)
	assert.Nil(t, meta)

	fetched := time.Now().Truncate(time.Second)
	require.NoError(t, st.SaveIconMeta(&IconMetadata{FeedID: 10, ETag: `"abc"`, LastFetched: fetched}))

	meta, err = st.IconMeta(10)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, `"abc"`, meta.ETag)
	assert.True(t, fetched.Equal(meta.LastFetched))
}
