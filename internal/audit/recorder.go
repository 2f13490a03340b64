package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"
	"go.opentelemetry.io/otel/trace"

	"labtrail/pkg/domain"
	dErrors "labtrail/pkg/domain-errors"
	"labtrail/pkg/requestcontext"
)

// Sink receives finished entries. *Dispatcher is the production sink.
type Sink interface {
	Dispatch(ctx context.Context, entry Entry)
}

// Operation describes one identity-bearing call as seen on entry.
type Operation struct {
	Identity  *domain.Identity
	Method    string
	Path      string
	Endpoint  string
	IPAddress string
	UserAgent string
}

// Observation is the in-flight state between Begin and Finish.
type Observation struct {
	op        Operation
	class     Classification
	start     time.Time
	requestID string
}

// Payload summarizes a response body without storing it.
type Payload struct {
	SHA256      string
	Bytes       int
	ContentType string
}

// SummarizePayload hashes body.
func SummarizePayload(body []byte, contentType string) Payload {
	sum := sha256.Sum256(body)
	return Payload{SHA256: hex.EncodeToString(sum[:]), Bytes: len(body), ContentType: contentType}
}

// Outcome is how an observed operation ended. A non-nil Err or a status of 400
// or above makes it an error outcome.
type Outcome struct {
	StatusCode int
	Payload    *Payload
	Err        error
}

// Recorder turns observed operations into audit entries and hands them to a Sink.
// Recording never changes the operation's result and never fails it.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
	newID  func() uuid.UUID
}

type RecorderOption func(*Recorder)

func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithClock replaces the wall clock used for timestamps and elapsed time.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		r.now = now
	}
}

func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sink:   sink,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.New,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Begin starts observing op. It returns nil for anonymous operations, which
// are not audited; Finish accepts the nil.
func (r *Recorder) Begin(ctx context.Context, op Operation) *Observation {
	if op.Identity == nil {
		return nil
	}
	if op.Endpoint == "" {
		op.Endpoint = op.Path
	}
	return &Observation{
		op:        op,
		class:     Classify(op.Method, op.Path, op.Identity.Role),
		start:     r.now(),
		requestID: requestcontext.RequestID(ctx),
	}
}

// Finish builds exactly one entry for obs and dispatches it.
func (r *Recorder) Finish(ctx context.Context, obs *Observation, out Outcome) {
	if obs == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "audit recording panicked",
				"panic", fmt.Sprint(p),
				"request_id", obs.requestID,
			)
		}
	}()
	r.sink.Dispatch(ctx, r.build(ctx, obs, out))
}

func (r *Recorder) build(ctx context.Context, obs *Observation, out Outcome) Entry {
	end := r.now()
	entry := Entry{
		ID:             domain.AuditEntryID(r.newID()),
		ActorID:        obs.op.Identity.ID,
		ActorRole:      obs.op.Identity.Role,
		Action:         obs.class.Action,
		ResourceType:   obs.class.ResourceType,
		IPAddress:      obs.op.IPAddress,
		UserAgent:      obs.op.UserAgent,
		Endpoint:       obs.op.Endpoint,
		Method:         obs.op.Method,
		ResponseTimeMs: end.Sub(obs.start).Milliseconds(),
		Timestamp:      end.UTC(),
	}
	if obs.class.ResourceID != "" {
		id := obs.class.ResourceID
		entry.ResourceID = &id
	}

	metadata := map[string]any{}
	if obs.requestID != "" {
		metadata["request_id"] = obs.requestID
	}
	if client := clientSummary(obs.op.UserAgent); client != nil {
		metadata["client"] = client
	}

	base := obs.op.Method + " " + obs.op.Endpoint
	err := normalizeErr(out.Err)
	if err == nil && out.StatusCode >= http.StatusBadRequest {
		err = dErrors.New(codeForStatus(out.StatusCode), http.StatusText(out.StatusCode))
	}

	if err == nil {
		entry.StatusCode = out.StatusCode
		if entry.StatusCode == 0 {
			entry.StatusCode = http.StatusOK
		}
		entry.Description = base
		if out.Payload != nil {
			metadata["response"] = map[string]any{
				"sha256":       out.Payload.SHA256,
				"bytes":        out.Payload.Bytes,
				"content_type": out.Payload.ContentType,
			}
		}
	} else {
		entry.StatusCode = out.StatusCode
		if entry.StatusCode < http.StatusBadRequest {
			entry.StatusCode = dErrors.StatusOf(err)
		}
		message := dErrors.Message(err)
		entry.Description = base + " - ERROR: " + message
		metadata["error"] = err.Error()
		metadata["trace"] = traceOf(ctx, err)
	}

	entry.Metadata = metadata
	return entry
}

// normalizeErr codes bare context errors as timeouts.
func normalizeErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := dErrors.As(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "request cancelled or timed out")
	}
	return err
}

func codeForStatus(status int) dErrors.Code {
	switch status {
	case http.StatusBadRequest:
		return dErrors.CodeBadRequest
	case http.StatusUnauthorized:
		return dErrors.CodeUnauthorized
	case http.StatusForbidden:
		return dErrors.CodeForbidden
	case http.StatusNotFound:
		return dErrors.CodeNotFound
	case http.StatusConflict:
		return dErrors.CodeConflict
	case http.StatusGatewayTimeout:
		return dErrors.CodeTimeout
	default:
		return dErrors.CodeInternal
	}
}

const maxChainDepth = 16

func traceOf(ctx context.Context, err error) map[string]any {
	chain := make([]string, 0, 4)
	for e := err; e != nil && len(chain) < maxChainDepth; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T: %s", e, e.Error()))
	}
	out := map[string]any{"chain": chain}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		out["trace_id"] = sc.TraceID().String()
		out["span_id"] = sc.SpanID().String()
	}
	return out
}

func clientSummary(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	return map[string]any{
		"browser": name,
		"version": version,
		"os":      ua.OS(),
		"mobile":  ua.Mobile(),
		"bot":     ua.Bot(),
	}
}

// Observe runs fn as an audited operation for callers outside HTTP. The result
// and error of fn are returned unchanged; a panic in fn is recorded and re-raised.
func Observe[T any](ctx context.Context, r *Recorder, op Operation, fn func(context.Context) (T, error)) (result T, err error) {
	obs := r.Begin(ctx, op)
	defer func() {
		if p := recover(); p != nil {
			r.Finish(ctx, obs, Outcome{
				StatusCode: http.StatusInternalServerError,
				Err:        dErrors.New(dErrors.CodeInternal, fmt.Sprintf("panic: %v", p)),
			})
			panic(p)
		}
	}()

	result, err = fn(ctx)
	out := Outcome{Err: err}
	if err == nil {
		out.StatusCode = http.StatusOK
		if body, mErr := json.Marshal(result); mErr == nil {
			p := SummarizePayload(body, "application/json")
			out.Payload = &p
		}
	}
	r.Finish(ctx, obs, out)
	return result, err
}
