package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/NordCoder/Zepatrol/internal/domain/target"
)

type apiResponse struct {
	Online *bool           `json:"online"`
	Score  json.RawMessage `json:"score"`
}

// APIProber queries a per-node status endpoint built from a base url and the
// target keyword. The raw outcome only reflects the online flag; score
// comparison is left to Verdict.
type APIProber struct {
	Client    *http.Client
	UserAgent string
}

func (p *APIProber) Probe(ctx context.Context, spec target.Spec) Outcome {
	s, ok := spec.(target.API)
	if !ok {
		return mismatch(target.MethodAPI, spec)
	}

	u, err := keywordURL(s.BaseURL, s.Keyword)
	if err != nil {
		return Failed("invalid keyword encoding: " + err.Error())
	}
	req, err := newRequest(ctx, http.MethodGet, u, p.UserAgent, nil)
	if err != nil {
		return Failed(err.Error())
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := p.Client.Do(req)
	if err != nil {
		return Failed(err.Error())
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	lat := time.Since(start)
	if err != nil {
		return failedAfter(err.Error(), lat)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return failedAfter(fmt.Sprintf("HTTP %d", resp.StatusCode), lat)
	}

	var r apiResponse
	if err := json.Unmarshal(body, &r); err != nil || r.Online == nil {
		return failedAfter("unexpected response: "+snippet(body), lat)
	}
	if !*r.Online {
		out := failedAfter(ErrOffline, lat)
		out.Offline = true
		return out
	}

	out := okAfter(lat)
	out.Score = parseScore(r.Score)
	return out
}

// parseScore accepts a JSON number or a numeric string. A missing or null
// score is absent.
func parseScore(raw json.RawMessage) *float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return &f
		}
	}
	return nil
}

func snippet(b []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
