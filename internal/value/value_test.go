package value_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

func TestEqualAcrossKinds(t *testing.T) {
	assert.True(t, value.Int(3).Equal(value.Int(3)))
	assert.False(t, value.Int(3).Equal(value.Float(3)))
	assert.False(t, value.String("a").Equal(value.String("b")))
	assert.True(t, value.Null().Equal(value.Null()))
}

func TestListEqualityIsOrdered(t *testing.T) {
	a := value.List([]value.Value{value.Int(1), value.Int(2)})
	b := value.List([]value.Value{value.Int(2), value.Int(1)})
	c := value.List([]value.Value{value.Int(1), value.Int(2)})
	assert.False(t, a.Equal(b))
	assert.True(t, a.Equal(c))
}

func TestMapEqualityIsUnordered(t *testing.T) {
	a := value.Map(map[string]value.Value{"x": value.Int(1), "y": value.Int(2)})
	b := value.Map(map[string]value.Value{"y": value.Int(2), "x": value.Int(1)})
	assert.True(t, a.Equal(b))
}

func TestTimestampRoundTripDropsSubSecond(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 12, 0, 0, 500_000_000, time.UTC)
	v := value.Timestamp(t1)
	data, err := json.Marshal(v)
	require.NoError(t, err)

	var w map[string]any
	require.NoError(t, json.Unmarshal(data, &w))
	assert.Equal(t, "2024-01-01T12:00:00", w["ts"])

	var back value.Value
	require.NoError(t, json.Unmarshal(data, &back))
	got, ok := back.AsTimestamp()
	require.True(t, ok)
	assert.True(t, t1.Truncate(time.Second).Equal(got))
}

func TestBytesBase64RoundTrip(t *testing.T) {
	v := value.Bytes([]byte{0, 1, 2, 255})
	data, err := json.Marshal(v)
	require.NoError(t, err)

	var back value.Value
	require.NoError(t, json.Unmarshal(data, &back))
	got, ok := back.AsBytes()
	require.True(t, ok)
	assert.Equal(t, []byte{0, 1, 2, 255}, got)
}

func TestCloneAttrMapIsIndependent(t *testing.T) {
	m := value.AttrMap{"a": value.Int(1)}
	cp := value.CloneAttrMap(m)
	cp["a"] = value.Int(2)
	got, ok := m["a"].AsInt()
	require.True(t, ok)
	assert.EqualValues(t, 1, got)
}

func TestPKeyEqualAndString(t *testing.T) {
	a := value.PKey{value.Int(1), value.String("x")}
	b := value.PKey{value.Int(1), value.String("x")}
	c := value.PKey{value.Int(1), value.String("y")}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.Equal(t, a.String(), b.String())
	assert.NotEqual(t, a.String(), c.String())
}
