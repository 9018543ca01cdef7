package service

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryPutGetLookupRemove(t *testing.T) {
	svc, _ := newTestService(t)

	r := NewRegistry()
	if _, ok := r.Get("front"); ok {
		t.Fatal("empty registry reported a hit")
	}

	r.Put("front", svc)

	raw, ok := r.Get("front")
	require.True(t, ok)
	require.Same(t, svc, raw)

	looked, ok := Lookup[testPacket](r, "front")
	require.True(t, ok)
	require.Same(t, svc, looked)

	// A name that exists but under the wrong element type reports ok=false
	// rather than panicking on the failed type assertion.
	_, ok = Lookup[int](r, "front")
	require.False(t, ok)

	r.Remove("front")
	_, ok = r.Get("front")
	require.False(t, ok)
}
