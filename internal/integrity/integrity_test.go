package integrity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/dataschema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/integrity"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/object"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/projection"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

func snapshotOf(typeName string, objs ...object.Object) *object.Snapshot {
	s := object.NewSnapshot(typeName)
	for _, o := range objs {
		s.Put(o)
	}
	return s
}

func TestEvaluateDropsRowFailingSelfConstraint(t *testing.T) {
	schema := &dataschema.Schema{Types: []dataschema.EntityType{
		{
			Name:                 "user",
			PrimaryKey:           []string{"id"},
			IntegrityConstraints: []string{`_SELF.mail | not_null`},
			Sources:              []dataschema.SourceBinding{{Name: "hr", Mapping: map[string]dataschema.AttrMapping{"id": {Expr: "remote.id"}}}},
		},
	}}

	dm := integrity.Datamodel{
		"user": snapshotOf("user",
			object.Object{PKey: value.PKey{value.String("u1")}, Attrs: value.AttrMap{"id": value.String("u1"), "mail": value.String("a@x")}},
			object.Object{PKey: value.PKey{value.String("u2")}, Attrs: value.AttrMap{"id": value.String("u2")}},
		),
	}

	res := integrity.Evaluate(schema, dm, projection.NewDefaultRegistry())
	assert.Equal(t, 1, res.DroppedByType["user"])
	assert.Equal(t, 1, dm["user"].Len())
	_, ok := dm["user"].Get(value.PKey{value.String("u1")})
	assert.True(t, ok)
}

func TestEvaluateChecksPeerTypePkeys(t *testing.T) {
	schema := &dataschema.Schema{Types: []dataschema.EntityType{
		{Name: "Users", PrimaryKey: []string{"id"},
			Sources: []dataschema.SourceBinding{{Name: "hr", Mapping: map[string]dataschema.AttrMapping{"id": {Expr: "remote.id"}}}}},
		{
			Name:                 "GroupsMembers",
			PrimaryKey:           []string{"gid", "uid"},
			IntegrityConstraints: []string{`Users_pkeys._ | contains(_SELF.uid)`},
			Sources:              []dataschema.SourceBinding{{Name: "hr", Mapping: map[string]dataschema.AttrMapping{"id": {Expr: "remote.id"}}}},
		},
	}}

	dm := integrity.Datamodel{
		"Users": snapshotOf("Users",
			object.Object{PKey: value.PKey{value.Int(1)}, Attrs: value.AttrMap{"id": value.Int(1)}},
		),
		"GroupsMembers": snapshotOf("GroupsMembers",
			object.Object{PKey: value.PKey{value.Int(5), value.Int(1)}, Attrs: value.AttrMap{"gid": value.Int(5), "uid": value.Int(1)}},
			object.Object{PKey: value.PKey{value.Int(5), value.Int(99)}, Attrs: value.AttrMap{"gid": value.Int(5), "uid": value.Int(99)}},
		),
	}

	res := integrity.Evaluate(schema, dm, projection.NewDefaultRegistry())
	assert.Equal(t, 1, res.DroppedByType["GroupsMembers"])
	_, ok := dm["GroupsMembers"].Get(value.PKey{value.Int(5), value.Int(1)})
	assert.True(t, ok, "member referencing an existing Users pkey must survive")
	_, ok = dm["GroupsMembers"].Get(value.PKey{value.Int(5), value.Int(99)})
	assert.False(t, ok, "member referencing a pkey absent from Users_pkeys must be dropped")
}

func TestEvaluateNoConstraintsLeavesSnapshotUntouched(t *testing.T) {
	schema := &dataschema.Schema{Types: []dataschema.EntityType{
		{Name: "group", PrimaryKey: []string{"id"},
			Sources: []dataschema.SourceBinding{{Name: "hr", Mapping: map[string]dataschema.AttrMapping{"id": {Expr: "remote.id"}}}}},
	}}
	dm := integrity.Datamodel{
		"group": snapshotOf("group", object.Object{PKey: value.PKey{value.String("g1")}, Attrs: value.AttrMap{"id": value.String("g1")}}),
	}

	res := integrity.Evaluate(schema, dm, projection.NewDefaultRegistry())
	assert.Equal(t, 0, res.DroppedByType["group"])
	assert.Equal(t, 1, dm["group"].Len())
}
