package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMissing = errors.New("missing")

func TestRememberStoresSuccess(t *testing.T) {
	l := New(time.Minute)
	calls := 0
	load := func() (string, error) {
		calls++
		return "g1", nil
	}
	for i := 0; i < 3; i++ {
		v, err := Remember(l, "group:std", load)
		require.NoError(t, err)
		assert.Equal(t, "g1", v)
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, l.Len())
}

func TestRememberStickyAndTransientErrors(t *testing.T) {
	l := New(time.Minute)
	calls := 0
	missing := func() (int, error) {
		calls++
		return 0, errMissing
	}
	_, err := Remember(l, "rate:g1:3", missing, errMissing)
	assert.ErrorIs(t, err, errMissing)
	_, err = Remember(l, "rate:g1:3", missing, errMissing)
	assert.ErrorIs(t, err, errMissing)
	assert.Equal(t, 1, calls, "sticky error is memoized")

	transient := 0
	flaky := func() (int, error) {
		transient++
		return 0, errors.New("timeout")
	}
	_, _ = Remember(l, "rate:g1:4", flaky, errMissing)
	_, _ = Remember(l, "rate:g1:4", flaky, errMissing)
	assert.Equal(t, 2, transient)
}

func TestRememberExpires(t *testing.T) {
	l := New(20 * time.Millisecond)
	calls := 0
	load := func() (int, error) {
		calls++
		return calls, nil
	}
	v, _ := Remember(l, "k", load)
	assert.Equal(t, 1, v)
	time.Sleep(40 * time.Millisecond)
	v, _ = Remember(l, "k", load)
	assert.Equal(t, 2, v)
}

func TestRememberNilLookupLoadsEveryTime(t *testing.T) {
	calls := 0
	load := func() (int, error) {
		calls++
		return 7, nil
	}
	var l *Lookup
	_, _ = Remember(l, "k", load)
	_, _ = Remember(l, "k", load)
	assert.Equal(t, 2, calls)
}
