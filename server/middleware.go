package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
)

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// requestIDMiddleware tags every request with an ID, reusing the caller's
// when present.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the ID assigned by requestIDMiddleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// redactedQueryParams never reach the access log in clear text.
var redactedQueryParams = []string{"token"}

// accessLogFormatter writes Apache combined log lines with credentials
// removed from the query string.
func accessLogFormatter(w io.Writer, params handlers.LogFormatterParams) {
	req := params.Request
	u := params.URL
	q := u.Query()
	redacted := false
	for _, name := range redactedQueryParams {
		if q.Has(name) {
			q.Set(name, "REDACTED")
			redacted = true
		}
	}
	if redacted {
		u.RawQuery = q.Encode()
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	size := "-"
	if params.Size > 0 {
		size = strconv.Itoa(params.Size)
	}
	fmt.Fprintf(w, "%s - - [%s] %q %d %s %q %q\n",
		host,
		params.TimeStamp.Format("02/Jan/2006:15:04:05 -0700"),
		req.Method+" "+u.RequestURI()+" "+req.Proto,
		params.StatusCode,
		size,
		req.Referer(),
		req.UserAgent(),
	)
}
