package observability

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Middleware adds a request scoped Logger to the Context of the requests it serves.
type Middleware struct {
	// TraceIdHeader names the request header carrying the trace id.
	// A new uuid is used when the header is missing.
	TraceIdHeader string
}

// Wrap returns an Handler that add Observability to http Request Context and call next.
func (self Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		traceId := ""
		if "" != self.TraceIdHeader {
			traceId = r.Header.Get(self.TraceIdHeader)
		}
		if "" == traceId {
			traceId = uuid.NewString()
		}

		log := Log(r.Context()).With("trace_id", traceId)
		ctx := SetObservability(r.Context(), &Observability{Logger: log})
		sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		log.Debug(
			"served request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"bytes", sw.written,
			"elapsed", time.Since(start),
		)
	})
}

// statusRecorder keeps the status code & body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int
}

func (self *statusRecorder) WriteHeader(statusCode int) {
	self.status = statusCode
	self.ResponseWriter.WriteHeader(statusCode)
}

func (self *statusRecorder) Write(b []byte) (int, error) {
	n, err := self.ResponseWriter.Write(b)
	self.written += n
	return n, err
}

// Unwrap allows http.ResponseController to reach the wrapped ResponseWriter.
func (self *statusRecorder) Unwrap() http.ResponseWriter {
	return self.ResponseWriter
}

var _ http.ResponseWriter = &statusRecorder{}
