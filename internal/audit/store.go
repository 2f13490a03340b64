package audit

import (
	"context"
	"errors"
	"log/slog"

	"labtrail/pkg/domain"
	"labtrail/pkg/platform/circuit"
)

// Appender persists entries. Implementations must not modify an entry once written.
type Appender interface {
	Append(ctx context.Context, entry Entry) error
}

// Querier reads entries back.
type Querier interface {
	FindByID(ctx context.Context, id domain.AuditEntryID) (Entry, error)
	Query(ctx context.Context, filter Filter) ([]Entry, error)
}

// Store is the full audit persistence port.
type Store interface {
	Appender
	Querier
}

// Fanout writes to a primary store and then to optional mirror sinks. Only the
// primary's failure is returned; mirror failures are logged.
type Fanout struct {
	primary Appender
	mirrors []Appender
	logger  *slog.Logger
}

func NewFanout(primary Appender, logger *slog.Logger, mirrors ...Appender) *Fanout {
	return &Fanout{primary: primary, mirrors: mirrors, logger: logger}
}

func (f *Fanout) Append(ctx context.Context, entry Entry) error {
	err := f.primary.Append(ctx, entry)
	for _, m := range f.mirrors {
		if mErr := m.Append(ctx, entry); mErr != nil {
			f.logger.WarnContext(ctx, "audit mirror append failed",
				"error", mErr,
				"entry_id", entry.ID.String(),
			)
		}
	}
	return err
}

// ErrSinkOpen is returned by a Breaking sink while its breaker is open.
var ErrSinkOpen = errors.New("audit sink circuit open")

// Breaking stops calling a failing sink until its breaker lets a trial call through.
type Breaking struct {
	sink    Appender
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewBreaking(sink Appender, breaker *circuit.Breaker, logger *slog.Logger) *Breaking {
	return &Breaking{sink: sink, breaker: breaker, logger: logger}
}

func (b *Breaking) Append(ctx context.Context, entry Entry) error {
	if !b.breaker.Allow() {
		return ErrSinkOpen
	}
	if err := b.sink.Append(ctx, entry); err != nil {
		if _, change := b.breaker.RecordFailure(); change.Opened {
			b.logger.WarnContext(ctx, "audit sink circuit opened", "sink", b.breaker.Name(), "error", err)
		}
		return err
	}
	if _, change := b.breaker.RecordSuccess(); change.Closed {
		b.logger.InfoContext(ctx, "audit sink circuit closed", "sink", b.breaker.Name())
	}
	return nil
}
