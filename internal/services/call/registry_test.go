package call

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistrySwapReturnsPrevious(t *testing.T) {
	r := NewRegistry()
	a := newCall("a", "101", &fakeMedia{})
	b := newCall("b", "102", &fakeMedia{})

	assert.Nil(t, r.Swap(a))
	assert.Equal(t, a, r.Current())

	assert.Equal(t, a, r.Swap(b))
	assert.Equal(t, b, r.Current())
}

func TestRegistryClearOnlyEvictsMatchingCall(t *testing.T) {
	r := NewRegistry()
	a := newCall("a", "101", &fakeMedia{})
	b := newCall("b", "102", &fakeMedia{})

	r.Swap(a)
	r.Swap(b)

	// A teardown of the displaced call must not evict the newer one.
	r.Clear(a)
	assert.Equal(t, b, r.Current())

	r.Clear(b)
	assert.Nil(t, r.Current())
}
