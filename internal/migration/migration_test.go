package migration

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestRun_SqliteCreatesSchemaAndState(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	require.NoError(t, Run(ctx, db, zap.NewNop()))
	// Running twice only refreshes schema_state.
	require.NoError(t, Run(ctx, db, zap.NewNop()))

	for _, table := range []string{"orders", "payment_intents", "webhook_events", "ledger_accounts", "settlement_items", "fulfillment_tasks"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}

	var count int64
	require.NoError(t, db.Model(&SchemaState{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	gate, err := NewGate(db)
	require.NoError(t, err)
	require.NoError(t, gate.Check(ctx))
}

func TestGate_DetectsDrift(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	require.NoError(t, db.AutoMigrate(&SchemaState{}))

	gate, err := NewGate(db)
	require.NoError(t, err)
	require.ErrorIs(t, gate.Check(ctx), ErrSchemaNotReady)

	manifest, err := LoadManifest()
	require.NoError(t, err)
	require.NoError(t, recordSchemaState(ctx, db, Manifest{Version: manifest.Version + 1, Checksum: manifest.Checksum}))
	require.ErrorIs(t, gate.Check(ctx), ErrSchemaVersionMismatch)

	require.NoError(t, recordSchemaState(ctx, db, Manifest{Version: manifest.Version, Checksum: "deadbeef"}))
	require.ErrorIs(t, gate.Check(ctx), ErrSchemaChecksumMismatch)

	require.NoError(t, recordSchemaState(ctx, db, manifest))
	require.NoError(t, gate.Check(ctx))
}

func TestManifest(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0001_init.up.sql":   {Data: []byte("CREATE TABLE a (id INT);")},
		"m/0001_init.down.sql": {Data: []byte("DROP TABLE a;")},
		"m/0003_more.up.sql":   {Data: []byte("CREATE TABLE b (id INT);")},
		"m/0003_more.down.sql": {Data: []byte("DROP TABLE b;")},
	}
	m, err := manifestFrom(fsys, "m")
	require.NoError(t, err)
	assert.Equal(t, uint(3), m.Version)
	assert.Equal(t, "3", m.VersionString())
	assert.Len(t, m.Checksum, 64)

	// Down scripts do not feed the checksum.
	fsys["m/0003_more.down.sql"] = &fstest.MapFile{Data: []byte("-- changed")}
	same, err := manifestFrom(fsys, "m")
	require.NoError(t, err)
	assert.Equal(t, m.Checksum, same.Checksum)

	fsys["m/0003_more.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE c (id INT);")}
	changed, err := manifestFrom(fsys, "m")
	require.NoError(t, err)
	assert.NotEqual(t, m.Checksum, changed.Checksum)

	fsys["m/oops.up.sql"] = &fstest.MapFile{Data: []byte("")}
	_, err = manifestFrom(fsys, "m")
	require.Error(t, err)

	_, err = manifestFrom(fstest.MapFS{"m/README.md": {Data: []byte("x")}}, "m")
	require.Error(t, err)
}

func TestEmbeddedManifest(t *testing.T) {
	m, err := LoadManifest()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, m.Version, uint(1))
}
