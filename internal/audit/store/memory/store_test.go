package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labtrail/internal/audit"
	"labtrail/pkg/domain"
	"labtrail/pkg/platform/sentinel"
)

func entryAt(actor domain.UserID, at time.Time) audit.Entry {
	return audit.Entry{
		ID:           domain.AuditEntryID(uuid.New()),
		ActorID:      actor,
		ActorRole:    domain.RoleLab,
		Action:       audit.ActionRead,
		ResourceType: audit.ResourceResult,
		Metadata:     map[string]any{"request_id": "r"},
		Timestamp:    at,
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	actor := domain.UserID(uuid.New())

	t.Run("append is write-once", func(t *testing.T) {
		s := New()
		e := entryAt(actor, base)
		require.NoError(t, s.Append(ctx, e))
		err := s.Append(ctx, e)
		assert.True(t, errors.Is(err, sentinel.ErrConflict))
		assert.Equal(t, 1, s.Len())
	})

	t.Run("stored entries cannot be edited through returned copies", func(t *testing.T) {
		s := New()
		e := entryAt(actor, base)
		require.NoError(t, s.Append(ctx, e))

		got, err := s.FindByID(ctx, e.ID)
		require.NoError(t, err)
		got.Metadata["request_id"] = "tampered"

		again, err := s.FindByID(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, "r", again.Metadata["request_id"])
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := New().FindByID(ctx, domain.AuditEntryID(uuid.New()))
		assert.True(t, errors.Is(err, sentinel.ErrNotFound))
	})

	t.Run("query orders newest first and honours limit", func(t *testing.T) {
		s := New()
		for i := range 4 {
			require.NoError(t, s.Append(ctx, entryAt(actor, base.Add(time.Duration(i)*time.Minute))))
		}
		require.NoError(t, s.Append(ctx, entryAt(domain.UserID(uuid.New()), base.Add(time.Hour))))

		got, err := s.Query(ctx, audit.Filter{ActorID: &actor, Limit: 2})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, base.Add(3*time.Minute), got[0].Timestamp)
		assert.Equal(t, base.Add(2*time.Minute), got[1].Timestamp)
	})
}
