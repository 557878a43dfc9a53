package projection_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/dataschema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/projection"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

func TestProjectSimpleRef(t *testing.T) {
	cm, err := projection.CompileAll(map[string]dataschema.AttrMapping{
		"mail": {Expr: "remote.mail"},
	})
	require.NoError(t, err)

	out, err := projection.Project(cm, projection.Env{
		Remote: value.AttrMap{"mail": value.String("a@x")},
	}, projection.NewDefaultRegistry())
	require.NoError(t, err)

	got, ok := out["mail"].AsString()
	require.True(t, ok)
	assert.Equal(t, "a@x", got)
}

func TestProjectFilterPipeline(t *testing.T) {
	cm, err := projection.CompileAll(map[string]dataschema.AttrMapping{
		"mail": {Expr: `remote.mail | lower | trim`},
	})
	require.NoError(t, err)

	out, err := projection.Project(cm, projection.Env{
		Remote: value.AttrMap{"mail": value.String("  Alice@X.COM  ")},
	}, projection.NewDefaultRegistry())
	require.NoError(t, err)

	got, _ := out["mail"].AsString()
	assert.Equal(t, "alice@x.com", got)
}

func TestProjectConcatMapping(t *testing.T) {
	cm, err := projection.CompileAll(map[string]dataschema.AttrMapping{
		"aliases": {Concat: []string{"a", "b", "c"}},
	})
	require.NoError(t, err)

	out, err := projection.Project(cm, projection.Env{
		Remote: value.AttrMap{
			"a": value.String("x"),
			"c": value.String("z"),
		},
	}, projection.NewDefaultRegistry())
	require.NoError(t, err)

	list, ok := out["aliases"].AsList()
	require.True(t, ok)
	require.Len(t, list, 2)
	s0, _ := list[0].AsString()
	s1, _ := list[1].AsString()
	assert.Equal(t, "x", s0)
	assert.Equal(t, "z", s1)
}

func TestProjectConcatAllNullOmitsAttribute(t *testing.T) {
	cm, err := projection.CompileAll(map[string]dataschema.AttrMapping{
		"aliases": {Concat: []string{"a", "b"}},
	})
	require.NoError(t, err)

	out, err := projection.Project(cm, projection.Env{Remote: value.AttrMap{}}, projection.NewDefaultRegistry())
	require.NoError(t, err)
	_, present := out["aliases"]
	assert.False(t, present)
}

func TestProjectUnregisteredFilterErrors(t *testing.T) {
	cm, err := projection.CompileAll(map[string]dataschema.AttrMapping{
		"mail": {Expr: "remote.mail | nope"},
	})
	require.NoError(t, err)

	_, err = projection.Project(cm, projection.Env{
		Remote: value.AttrMap{"mail": value.String("a@x")},
	}, projection.NewDefaultRegistry())
	require.Error(t, err)
}

func TestProjectCachedScope(t *testing.T) {
	cm, err := projection.CompileAll(map[string]dataschema.AttrMapping{
		"prevMail": {Expr: "cached.mail"},
	})
	require.NoError(t, err)

	out, err := projection.Project(cm, projection.Env{
		Cached: value.AttrMap{"mail": value.String("old@x")},
	}, projection.NewDefaultRegistry())
	require.NoError(t, err)
	got, _ := out["prevMail"].AsString()
	assert.Equal(t, "old@x", got)
}

func TestCompileRejectsBadSyntax(t *testing.T) {
	_, err := projection.CompileAll(map[string]dataschema.AttrMapping{
		"bad": {Expr: "remote."},
	})
	require.Error(t, err)
}

func TestCompileRejectsUnknownScope(t *testing.T) {
	_, err := projection.CompileAll(map[string]dataschema.AttrMapping{
		"bad": {Expr: "upstream.mail"},
	})
	require.Error(t, err)
}
