package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"net/http"

	dErrors "labtrail/pkg/domain-errors"
	"labtrail/pkg/requestcontext"
)

// Middleware audits every request that carries an identity. It must run after
// authentication so the identity is on the context; anonymous requests pass
// through unrecorded.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		obs := r.Begin(ctx, Operation{
			Identity:  requestcontext.Identity(ctx),
			Method:    req.Method,
			Path:      req.URL.Path,
			Endpoint:  req.URL.RequestURI(),
			IPAddress: requestcontext.ClientIP(ctx),
			UserAgent: requestcontext.UserAgent(ctx),
		})
		if obs == nil {
			next.ServeHTTP(w, req)
			return
		}

		cw := newCaptureWriter(w)
		defer func() {
			if p := recover(); p != nil {
				r.Finish(ctx, obs, Outcome{
					StatusCode: http.StatusInternalServerError,
					Err:        dErrors.New(dErrors.CodeInternal, fmt.Sprintf("panic: %v", p)),
				})
				panic(p)
			}
		}()

		next.ServeHTTP(cw, req)
		r.Finish(ctx, obs, cw.outcome(ctx))
	})
}

// captureWriter records status, body digest and the domain error behind an
// error response while passing everything through.
type captureWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	digest      hash.Hash
	bytes       int
	err         error
}

func newCaptureWriter(w http.ResponseWriter) *captureWriter {
	return &captureWriter{ResponseWriter: w, digest: sha256.New()}
}

func (w *captureWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.digest.Write(b[:n])
	w.bytes += n
	return n, err
}

// RecordError implements httputil.ErrorRecorder.
func (w *captureWriter) RecordError(err error) {
	w.err = err
}

func (w *captureWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *captureWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *captureWriter) outcome(ctx context.Context) Outcome {
	out := Outcome{StatusCode: w.status, Err: w.err}
	if !w.wroteHeader {
		if err := ctx.Err(); err != nil && out.Err == nil {
			out.Err = dErrors.Wrap(err, dErrors.CodeTimeout, "request cancelled or timed out")
			out.StatusCode = http.StatusGatewayTimeout
			return out
		}
		out.StatusCode = http.StatusOK
	}
	if out.Err == nil && out.StatusCode < http.StatusBadRequest {
		out.Payload = &Payload{
			SHA256:      hex.EncodeToString(w.digest.Sum(nil)),
			Bytes:       w.bytes,
			ContentType: w.Header().Get("Content-Type"),
		}
	}
	return out
}
