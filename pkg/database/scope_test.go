package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeContextRoundTrip(t *testing.T) {
	ctx := context.Background()

	_, ok := GetScope(ctx)
	assert.False(t, ok, "empty context should not carry a scope")

	scope := NewScope(nil)
	ctx = SetScope(ctx, scope)

	got, ok := GetScope(ctx)
	require.True(t, ok)
	assert.Same(t, scope, got)
	assert.False(t, got.InTx())
}

func TestScopeClose_ReleasesOnce(t *testing.T) {
	released := 0
	scope := &Scope{release: func() { released++ }}

	scope.Close()
	scope.Close()

	assert.Equal(t, 1, released)
}

func TestScopeClose_NilSafe(t *testing.T) {
	var scope *Scope
	assert.NotPanics(t, func() { scope.Close() })
	assert.False(t, scope.InTx())
}

func TestAdvisoryXactLock_RequiresScope(t *testing.T) {
	err := AdvisoryXactLock(context.Background(), "incident_title", "armed clash")
	assert.ErrorIs(t, err, ErrNoScope)
}

func TestXactLock_RequiresTransaction(t *testing.T) {
	db := &DB{}
	ctx := SetScope(context.Background(), NewScope(nil))

	err := db.XactLock(ctx, "incident-title", "armed clash")
	assert.Error(t, err)

	err = db.XactLock(context.Background(), "incident-title", "armed clash")
	assert.Error(t, err)
}
