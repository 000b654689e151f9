package tahan

import (
	"context"
	"errors"

	"github.com/ambiyansyah-risyal/tahan/internal/singleflight"
)

// deduplicator lets concurrent identical requests share one execution.
type deduplicator struct {
	group *singleflight.Group[*Response]
}

func newDeduplicator() *deduplicator {
	return &deduplicator{group: singleflight.New[*Response]()}
}

// do runs fn once per key among concurrent callers. Each caller receives its
// own copy of the response; a caller whose ctx ends gets a CanceledError while
// the others keep waiting.
func (d *deduplicator) do(ctx context.Context, key string, fn func(ctx context.Context) (*Response, error)) (*Response, error, bool) {
	resp, err, joined := d.group.Do(ctx, key, fn)
	if err != nil {
		var clientErr *ClientError
		if !errors.As(err, &clientErr) {
			err = &ClientError{Type: ErrorTypeCanceled, Message: "request abandoned", Cause: err}
		}
		return nil, err, joined
	}
	return copyResponse(resp), nil, joined
}

// inFlight reports whether a shared execution for key is running.
func (d *deduplicator) inFlight(key string) bool {
	return d.group.InFlight(key)
}

// dedupKey extends the cache key so that authenticated and anonymous reads of
// the same URL never share a result.
func dedupKey(cacheKey string, req *Request) string {
	if req.RequiresAuth {
		return cacheKey + "#auth"
	}
	return cacheKey
}

func copyResponse(resp *Response) *Response {
	if resp == nil {
		return nil
	}
	out := *resp
	if resp.Body != nil {
		out.Body = append([]byte(nil), resp.Body...)
	}
	if resp.Header != nil {
		out.Header = resp.Header.Clone()
	}
	return &out
}
