package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/dataschema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/object"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/cache"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

func userType() dataschema.EntityType {
	return dataschema.EntityType{
		Name:       "user",
		PrimaryKey: []string{"id"},
		Sources: []dataschema.SourceBinding{
			{
				Name: "hr",
				Mapping: map[string]dataschema.AttrMapping{
					"id":       {Expr: "remote.id"},
					"mail":     {Expr: "remote.mail"},
					"pwdhash":  {Expr: "remote.pwdhash"},
					"lastseen": {Expr: "remote.lastseen"},
				},
				SecretAttrs:    map[string]bool{"pwdhash": true},
				CacheOnlyAttrs: map[string]bool{"lastseen": true},
			},
		},
	}
}

func TestSaveLoadRoundTripExcludesSecrets(t *testing.T) {
	dir := t.TempDir()
	store := cache.Store{Dir: dir, BackupCount: 2}
	typ := userType()

	snap := object.NewSnapshot("user")
	snap.Put(object.Object{
		PKey: value.PKey{value.String("u1")},
		Attrs: value.AttrMap{
			"id": value.String("u1"), "mail": value.String("a@x"),
			"pwdhash": value.String("secret-hash"), "lastseen": value.Int(42),
		},
	})

	require.NoError(t, cache.Save(store, typ, snap))

	loaded, err := cache.Load(store, typ)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())

	obj, ok := loaded.Get(value.PKey{value.String("u1")})
	require.True(t, ok)
	_, hasSecret := obj.Attrs["pwdhash"]
	assert.False(t, hasSecret)
	_, hasCacheOnly := obj.Attrs["lastseen"]
	assert.True(t, hasCacheOnly)
	mail, _ := obj.Attrs["mail"].AsString()
	assert.Equal(t, "a@x", mail)
}

func TestSaveRotatesBackups(t *testing.T) {
	dir := t.TempDir()
	store := cache.Store{Dir: dir, BackupCount: 2, Gzip: true}
	typ := userType()
	snap := object.NewSnapshot("user")
	snap.Put(object.Object{PKey: value.PKey{value.String("u1")}, Attrs: value.AttrMap{"id": value.String("u1")}})

	require.NoError(t, cache.Save(store, typ, snap))
	require.NoError(t, cache.Save(store, typ, snap))
	require.NoError(t, cache.Save(store, typ, snap))

	loaded, err := cache.Load(store, typ)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())
}

func TestLoadMissingFileReturnsEmptySnapshot(t *testing.T) {
	store := cache.Store{Dir: t.TempDir()}
	loaded, err := cache.Load(store, userType())
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Len())
}

func TestDiffAddedModifiedRemoved(t *testing.T) {
	typ := userType()

	prev := object.NewSnapshot("user")
	prev.Put(object.Object{PKey: value.PKey{value.String("u1")}, Attrs: value.AttrMap{
		"id": value.String("u1"), "mail": value.String("old@x"),
	}})
	prev.Put(object.Object{PKey: value.PKey{value.String("u2")}, Attrs: value.AttrMap{
		"id": value.String("u2"), "mail": value.String("gone@x"),
	}})

	next := object.NewSnapshot("user")
	next.Put(object.Object{PKey: value.PKey{value.String("u1")}, Attrs: value.AttrMap{
		"id": value.String("u1"), "mail": value.String("new@x"),
	}})
	next.Put(object.Object{PKey: value.PKey{value.String("u3")}, Attrs: value.AttrMap{
		"id": value.String("u3"), "mail": value.String("fresh@x"),
	}})

	changes := cache.Diff(typ, prev, next)
	byOp := map[cache.Op]int{}
	for _, c := range changes {
		byOp[c.Op]++
	}
	assert.Equal(t, 1, byOp[cache.Added])
	assert.Equal(t, 1, byOp[cache.Modified])
	assert.Equal(t, 1, byOp[cache.Removed])
}

func TestDiffExcludesCacheOnlyChangesFromModified(t *testing.T) {
	typ := userType()

	prev := object.NewSnapshot("user")
	prev.Put(object.Object{PKey: value.PKey{value.String("u1")}, Attrs: value.AttrMap{
		"id": value.String("u1"), "mail": value.String("a@x"), "lastseen": value.Int(1),
	}})
	next := object.NewSnapshot("user")
	next.Put(object.Object{PKey: value.PKey{value.String("u1")}, Attrs: value.AttrMap{
		"id": value.String("u1"), "mail": value.String("a@x"), "lastseen": value.Int(2),
	}})

	changes := cache.Diff(typ, prev, next)
	assert.Empty(t, changes)
}
