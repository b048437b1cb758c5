package policy

import (
	"fmt"
	"time"

	"github.com/NordCoder/Zepatrol/internal/domain/target"
	"github.com/NordCoder/Zepatrol/internal/domain/tenant"
)

// Intervals is one row of the polling table.
type Intervals struct {
	Premium time.Duration `mapstructure:"premium"`
	Free    time.Duration `mapstructure:"free"`
}

func (i Intervals) For(tier tenant.Tier) time.Duration {
	if tier == tenant.TierPremium {
		return i.Premium
	}
	return i.Free
}

// Policy maps (tier, category) to a polling interval. It is the only place
// plan-tier economics live; the orchestrator and the status projection both
// read it.
type Policy struct {
	table map[target.Category]Intervals
}

type Decision struct {
	Due      bool
	Interval time.Duration
}

func Default() Policy {
	return New(map[target.Category]Intervals{
		target.CategoryScore:    {Premium: 2 * time.Hour, Free: 24 * time.Hour},
		target.CategoryStandard: {Premium: 15 * time.Minute, Free: 24 * time.Hour},
	})
}

func New(table map[target.Category]Intervals) Policy {
	cp := make(map[target.Category]Intervals, len(table))
	for k, v := range table {
		cp[k] = v
	}
	return Policy{table: cp}
}

func (p Policy) Validate() error {
	if _, ok := p.table[target.CategoryStandard]; !ok {
		return fmt.Errorf("policy: missing %q intervals", target.CategoryStandard)
	}
	for cat, row := range p.table {
		if row.Premium <= 0 || row.Free <= 0 {
			return fmt.Errorf("policy: %q intervals must be positive", cat)
		}
	}
	return nil
}

func (p Policy) Interval(tier tenant.Tier, cat target.Category) time.Duration {
	row, ok := p.table[cat]
	if !ok {
		row = p.table[target.CategoryStandard]
	}
	return row.For(tier)
}

// Evaluate reports whether a target is due. A target never checked is always
// due, and an elapsed time equal to the interval counts as due.
func (p Policy) Evaluate(tier tenant.Tier, cat target.Category, lastCheck *time.Time, now time.Time) Decision {
	iv := p.Interval(tier, cat)
	if lastCheck == nil {
		return Decision{Due: true, Interval: iv}
	}
	return Decision{Due: now.Sub(*lastCheck) >= iv, Interval: iv}
}

// NextCheck is the earliest time the target becomes due.
func (p Policy) NextCheck(tier tenant.Tier, cat target.Category, lastCheck *time.Time, now time.Time) time.Time {
	if lastCheck == nil {
		return now
	}
	return lastCheck.Add(p.Interval(tier, cat))
}
