package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetRoundTrip(t *testing.T) {
	s := NewStore()
	s.Set("foo", []byte("bar"), nil)

	value, ok := s.Get("foo")
	require.True(t, ok)
	assert.Equal(t, []byte("bar"), value)
}

func TestGetMissingKey(t *testing.T) {
	s := NewStore()
	_, ok := s.Get("nope")
	assert.False(t, ok)
}

func TestGetCopiesValue(t *testing.T) {
	s := NewStore()
	s.Set("foo", []byte("bar"), nil)

	value, _ := s.Get("foo")
	value[0] = 'z'

	again, _ := s.Get("foo")
	assert.Equal(t, []byte("bar"), again, "mutating a returned value must not affect the store")
}

func TestTTLExpiry(t *testing.T) {
	s := NewStore()
	ttl := 50 * time.Millisecond
	s.Set("x", []byte("1"), &ttl)

	value, ok := s.Get("x")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), value)

	time.Sleep(80 * time.Millisecond)

	_, ok = s.Get("x")
	assert.False(t, ok, "key must report absent once its TTL has passed")
}

func TestDeleteReportsPresence(t *testing.T) {
	s := NewStore()
	assert.False(t, s.Delete("missing"))

	s.Set("key", []byte("v"), nil)
	assert.True(t, s.Delete("key"))
	assert.False(t, s.Delete("key"), "second delete of the same key reports absent")
}

func TestDeleteOfExpiredKeyReportsAbsent(t *testing.T) {
	s := NewStore()
	ttl := 10 * time.Millisecond
	s.Set("x", []byte("1"), &ttl)
	time.Sleep(30 * time.Millisecond)

	assert.False(t, s.Delete("x"))
}

func TestSweepExpiredRemovesOnlyExpired(t *testing.T) {
	s := NewStore()
	ttl := 10 * time.Millisecond
	s.Set("expiring", []byte("1"), &ttl)
	s.Set("forever", []byte("2"), nil)
	time.Sleep(30 * time.Millisecond)

	removed := s.SweepExpired()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Len())
}
