package target

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Method string

const (
	MethodRPC  Method = "jsonRpc"
	MethodPing Method = "ping"
	MethodHTTP Method = "http"
	MethodAPI  Method = "api"
)

// Spec is the resolved probe configuration of a target. The set of
// implementations is closed; see RPC, Ping, HTTP and API.
type Spec interface {
	Method() Method
	Address() string
	isSpec()
}

type RPC struct{ Endpoint string }

type Ping struct{ Host string }

type HTTP struct{ URL string }

type API struct {
	BaseURL string
	Keyword string
}

func (RPC) Method() Method  { return MethodRPC }
func (Ping) Method() Method { return MethodPing }
func (HTTP) Method() Method { return MethodHTTP }
func (API) Method() Method  { return MethodAPI }

func (s RPC) Address() string  { return s.Endpoint }
func (s Ping) Address() string { return s.Host }
func (s HTTP) Address() string { return s.URL }
func (s API) Address() string  { return s.BaseURL }

func (RPC) isSpec()  {}
func (Ping) isSpec() {}
func (HTTP) isSpec() {}
func (API) isSpec()  {}

var ErrBadConfig = errors.New("bad probe config")

// ResolveSpec builds the typed probe spec from the stored method, validation
// url and free-form JSON config. A config that cannot be parsed yields a spec
// with an empty keyword together with a non-nil error. Unknown methods are
// checked as plain HTTP.
func ResolveSpec(method, url string, rawConfig []byte) (Spec, error) {
	url = strings.TrimSpace(url)
	switch Method(method) {
	case MethodRPC:
		return RPC{Endpoint: url}, nil
	case MethodPing:
		return Ping{Host: url}, nil
	case MethodHTTP:
		return HTTP{URL: url}, nil
	case MethodAPI:
		kw, err := Keyword(rawConfig)
		return API{BaseURL: url, Keyword: kw}, err
	default:
		return HTTP{URL: url}, nil
	}
}

// Keyword extracts the probe keyword from a JSON object: the "keyword" member
// when present, otherwise the first member in document order.
func Keyword(raw []byte) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadConfig, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return "", fmt.Errorf("%w: expected object", ErrBadConfig)
	}

	var (
		first    string
		hasFirst bool
	)
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrBadConfig, err)
		}
		key, _ := kt.(string)

		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return "", fmt.Errorf("%w: %v", ErrBadConfig, err)
		}
		s, ok := scalar(val)
		if key == "keyword" {
			if !ok {
				return "", fmt.Errorf("%w: keyword is not a scalar", ErrBadConfig)
			}
			return s, nil
		}
		if !hasFirst && ok {
			first, hasFirst = s, true
		}
	}
	if _, err := dec.Token(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadConfig, err)
	}
	return first, nil
}

func scalar(v json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String(), true
	}
	return "", false
}
