package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/NordCoder/Zepatrol/internal/domain/target"
)

const headRequest = `{"jsonrpc":"2.0","id":1,"method":"eth_blockNumber","params":[]}`

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// RPCProber asks the node for its chain head. Any non-empty result means alive.
type RPCProber struct {
	Client    *http.Client
	UserAgent string
}

func (p *RPCProber) Probe(ctx context.Context, spec target.Spec) Outcome {
	s, ok := spec.(target.RPC)
	if !ok {
		return mismatch(target.MethodRPC, spec)
	}

	req, err := newRequest(ctx, http.MethodPost, s.Endpoint, p.UserAgent, strings.NewReader(headRequest))
	if err != nil {
		return Failed(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

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

	var r rpcResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return failedAfter("malformed response: "+err.Error(), lat)
	}
	if !truthy(r.Result) {
		if r.Error != nil {
			return failedAfter(fmt.Sprintf("rpc error %d: %s", r.Error.Code, r.Error.Message), lat)
		}
		return failedAfter("empty result", lat)
	}
	return okAfter(lat)
}

// truthy treats null, false, 0 and "" as absent.
func truthy(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	switch string(v) {
	case "", "null", "false", "0", `""`:
		return false
	}
	return true
}
