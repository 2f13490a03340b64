package audit_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"labtrail/internal/audit"
	"labtrail/internal/audit/mocks"
	"labtrail/pkg/platform/circuit"
)

func TestFanout(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	t.Run("mirror failure is not returned", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		primary := mocks.NewMockAppender(ctrl)
		mirror := mocks.NewMockAppender(ctrl)
		primary.EXPECT().Append(ctx, gomock.Any()).Return(nil)
		mirror.EXPECT().Append(ctx, gomock.Any()).Return(errors.New("broker down"))

		require.NoError(t, audit.NewFanout(primary, logger, mirror).Append(ctx, newEntry()))
	})

	t.Run("primary failure is returned and mirrors still run", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		primary := mocks.NewMockAppender(ctrl)
		mirror := mocks.NewMockAppender(ctrl)
		primaryErr := errors.New("disk full")
		primary.EXPECT().Append(ctx, gomock.Any()).Return(primaryErr)
		mirror.EXPECT().Append(ctx, gomock.Any()).Return(nil)

		err := audit.NewFanout(primary, logger, mirror).Append(ctx, newEntry())
		assert.ErrorIs(t, err, primaryErr)
	})
}

func TestBreaking(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockAppender(ctrl)
	breaker := circuit.New("audit-mirror", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	b := audit.NewBreaking(sink, breaker, logger)

	sinkErr := errors.New("timeout")
	sink.EXPECT().Append(ctx, gomock.Any()).Return(sinkErr).Times(2)

	assert.ErrorIs(t, b.Append(ctx, newEntry()), sinkErr)
	assert.ErrorIs(t, b.Append(ctx, newEntry()), sinkErr)
	assert.True(t, breaker.IsOpen())

	// open circuit short-circuits without calling the sink
	assert.ErrorIs(t, b.Append(ctx, newEntry()), audit.ErrSinkOpen)
}
