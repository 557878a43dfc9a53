package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/dataschema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/object"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/schema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

func TestApplyDeltaDropsRemovedType(t *testing.T) {
	c := schema.Cache{"group": object.NewSnapshot("group")}
	schema.ApplyDelta(dataschema.Delta{RemovedTypes: []string{"group"}}, c)
	_, ok := c["group"]
	assert.False(t, ok)
}

func TestApplyDeltaAddsEmptySnapshotForAddedType(t *testing.T) {
	c := schema.Cache{}
	schema.ApplyDelta(dataschema.Delta{AddedTypes: []string{"device"}}, c)
	snap, ok := c["device"]
	require.True(t, ok)
	assert.Equal(t, 0, snap.Len())
}

func TestApplyDeltaDropsRemovedAttr(t *testing.T) {
	snap := object.NewSnapshot("user")
	snap.Put(object.Object{PKey: value.PKey{value.String("u1")}, Attrs: value.AttrMap{"id": value.String("u1"), "legacy": value.String("x")}})
	c := schema.Cache{"user": snap}

	schema.ApplyDelta(dataschema.Delta{RemovedAttrs: []dataschema.AttrRef{{Type: "user", Attr: "legacy"}}}, c)

	obj, _ := c["user"].Get(value.PKey{value.String("u1")})
	_, present := obj.Attrs["legacy"]
	assert.False(t, present)
	_, stillThere := obj.Attrs["id"]
	assert.True(t, stillThere)
}

func TestApplyDeltaMigratesRenamedPKeyInPlace(t *testing.T) {
	pkey := value.PKey{value.String("u1")}
	snap := object.NewSnapshot("user")
	snap.Put(object.Object{PKey: pkey, Attrs: value.AttrMap{"uid": value.String("u1")}})
	c := schema.Cache{"user": snap}

	schema.ApplyDelta(dataschema.Delta{RenamedPKeys: []dataschema.PKeyRename{{Type: "user", OldAttr: "uid", NewAttr: "id"}}}, c)

	obj, ok := c["user"].Get(pkey)
	require.True(t, ok)
	_, hadOld := obj.Attrs["uid"]
	assert.False(t, hadOld)
	newVal, hadNew := obj.Attrs["id"]
	require.True(t, hadNew)
	s, _ := newVal.AsString()
	assert.Equal(t, "u1", s)
}
