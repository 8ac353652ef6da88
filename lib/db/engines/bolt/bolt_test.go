package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/hKV/lib/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "env.db")

	database, err := NewBoltDB(path, nil)
	require.NoError(t, err)
	require.NoError(t, database.CreateBucket("users"))
	require.NoError(t, database.Update(context.Background(), func(tx db.Tx) error {
		b, err := tx.Bucket("users")
		if err != nil {
			return err
		}
		return b.Put([]byte("joe"), []byte("1"))
	}))
	require.NoError(t, database.Close())

	database, err = NewBoltDB(path, nil)
	require.NoError(t, err)
	defer database.Close()

	var got []byte
	require.NoError(t, database.View(context.Background(), func(tx db.Tx) error {
		b, err := tx.Bucket("users")
		if err != nil {
			return err
		}
		got, err = b.Get([]byte("joe"))
		return err
	}))
	assert.Equal(t, []byte("1"), got)
}

func TestGetInfo(t *testing.T) {
	database := newTestDB(t)
	defer database.Close()
	require.NoError(t, database.CreateBucket("users"))

	info := database.GetInfo()
	assert.Equal(t, db.ImplBolt, info.DbType)
	assert.Contains(t, info.SupportedFeatures, db.FeatureDurable)
	assert.Positive(t, info.SizeBytes)

	meta, ok := info.Metadata.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, meta["buckets"], "users")
}
