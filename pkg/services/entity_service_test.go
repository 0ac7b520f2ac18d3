package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
	"github.com/ekaya-inc/incident-engine/pkg/models"
)

func TestEntityService_Get(t *testing.T) {
	f := newEntityFixture()
	inc := f.incident(t, "Attack on Konduga", day1)
	id := f.resolve(t, inc, models.ExtractedEntity{Name: "Boko Haram", Aliases: []string{"JAS"}, Role: models.LinkRolePerpetrator}).EntityID
	svc := NewEntityService(f.entities, zap.NewNop())

	detail, err := svc.Get(context.Background(), id)

	require.NoError(t, err)
	assert.Equal(t, "Boko Haram", detail.Entity.CanonicalName)
	assert.Equal(t, 1, detail.Entity.IncidentCount)
	assert.Len(t, detail.Aliases, 2)
	require.Len(t, detail.Links, 1)
	assert.Equal(t, inc.ID, detail.Links[0].IncidentID)

	_, err = svc.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestEntityService_ListEmpty(t *testing.T) {
	svc := NewEntityService(newMemEntityRepo(), zap.NewNop())

	got, err := svc.List(context.Background(), 10, 0)

	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
