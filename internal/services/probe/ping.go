package probe

import (
	"context"
	"fmt"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/NordCoder/Zepatrol/internal/domain/target"
)

// PingProber sends a single ICMP echo.
type PingProber struct {
	Deadline   time.Duration
	Privileged bool
}

func (p *PingProber) Probe(ctx context.Context, spec target.Spec) Outcome {
	s, ok := spec.(target.Ping)
	if !ok {
		return mismatch(target.MethodPing, spec)
	}
	host := hostOnly(s.Host)
	if host == "" {
		return Failed("empty ping host")
	}

	pinger, err := probing.NewPinger(host)
	if err != nil {
		return Failed(err.Error())
	}
	deadline := p.Deadline
	if deadline <= 0 {
		deadline = 2 * time.Second
	}
	pinger.Count = 1
	pinger.Timeout = deadline
	pinger.SetPrivileged(p.Privileged || runtime.GOOS == "windows")

	done := make(chan error, 1)
	go func() { done <- pinger.Run() }()

	select {
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return Failed(ctx.Err().Error())
	case err := <-done:
		if err != nil {
			return Failed(err.Error())
		}
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return Failed(fmt.Sprintf("no echo reply from %s within %s", host, deadline))
	}
	return okAfter(stats.AvgRtt)
}
