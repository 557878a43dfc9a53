package bus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/bus"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/cache"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/emitter"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

func TestIdentityIsStableAcrossEqualEvents(t *testing.T) {
	ev1 := emitter.Event{Type: "user", PKey: value.PKey{value.String("u1")}, Step: 3, Op: cache.Modified}
	ev2 := emitter.Event{Type: "user", PKey: value.PKey{value.String("u1")}, Step: 3, Op: cache.Modified}
	assert.Equal(t, bus.Identity(ev1), bus.Identity(ev2))
}

func TestIdentityDiffersByStep(t *testing.T) {
	ev1 := emitter.Event{Type: "user", PKey: value.PKey{value.String("u1")}, Step: 3, Op: cache.Modified}
	ev2 := emitter.Event{Type: "user", PKey: value.PKey{value.String("u1")}, Step: 4, Op: cache.Modified}
	assert.NotEqual(t, bus.Identity(ev1), bus.Identity(ev2))
}

func TestMarkerStrings(t *testing.T) {
	assert.Equal(t, "initsync_begin", bus.InitsyncBegin.String())
	assert.Equal(t, "initsync_end", bus.InitsyncEnd.String())
}
