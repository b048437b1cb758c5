package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/NordCoder/Zepatrol/internal/domain/target"
)

// HTTPProber considers any status below 400 alive. Redirects are followed.
type HTTPProber struct {
	Client    *http.Client
	UserAgent string
}

func (p *HTTPProber) Probe(ctx context.Context, spec target.Spec) Outcome {
	s, ok := spec.(target.HTTP)
	if !ok {
		return mismatch(target.MethodHTTP, spec)
	}

	req, err := newRequest(ctx, http.MethodGet, normalizeURL(s.URL), p.UserAgent, nil)
	if err != nil {
		return Failed(err.Error())
	}

	start := time.Now()
	resp, err := p.Client.Do(req)
	if err != nil {
		return Failed(err.Error())
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
	_ = resp.Body.Close()
	lat := time.Since(start)

	if resp.StatusCode >= http.StatusBadRequest {
		return failedAfter(fmt.Sprintf("HTTP %d", resp.StatusCode), lat)
	}
	return okAfter(lat)
}
