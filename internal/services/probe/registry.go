package probe

import (
	"net/http"
	"time"

	config "github.com/NordCoder/Zepatrol/internal/config/worker"
	"github.com/NordCoder/Zepatrol/internal/domain/target"
)

// NewDefault wires every supported validation method.
func NewDefault(cfg config.Probe, timeout time.Duration) *Registry {
	return NewWith(NewHTTPClient(cfg, timeout), cfg, timeout)
}

func NewWith(client *http.Client, cfg config.Probe, timeout time.Duration) *Registry {
	return NewRegistry(timeout).
		Register(target.MethodRPC, &RPCProber{Client: client, UserAgent: cfg.UserAgent}).
		Register(target.MethodHTTP, &HTTPProber{Client: client, UserAgent: cfg.UserAgent}).
		Register(target.MethodAPI, &APIProber{Client: client, UserAgent: cfg.UserAgent}).
		Register(target.MethodPing, &PingProber{Deadline: cfg.PingDeadline, Privileged: cfg.PingPrivileged})
}
