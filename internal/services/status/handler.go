package status

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/NordCoder/Zepatrol/internal/domain/clock"
	"github.com/NordCoder/Zepatrol/internal/domain/overview"
	"github.com/NordCoder/Zepatrol/internal/domain/policy"
	"github.com/NordCoder/Zepatrol/internal/domain/target"
	"github.com/NordCoder/Zepatrol/internal/domain/tenant"
)

// HealthyWindow is how recent a healthy check must be to count on /status.
const HealthyWindow = 30 * time.Minute

// Handler serves read-only projections of the monitored state.
type Handler struct {
	Totals  overview.Repo
	Targets target.Repo
	Tenants tenant.Repo
	Policy  policy.Policy
	Clock   clock.Clock
	Log     *zap.Logger
}

type statusResponse struct {
	overview.Totals
	GeneratedAt time.Time `json:"generated_at"`
}

type targetView struct {
	ID                  int64         `json:"id"`
	TenantID            int64         `json:"tenant_id"`
	Name                string        `json:"name"`
	Category            string        `json:"category"`
	Method              string        `json:"method"`
	Status              target.Status `json:"status"`
	LastCheck           *time.Time    `json:"last_check"`
	NextCheck           time.Time     `json:"next_check"`
	Interval            string        `json:"interval"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastScore           *float64      `json:"last_score,omitempty"`
}

func (h *Handler) Mount(r chi.Router) {
	r.Get("/status", h.status)
	r.Get("/status/targets", h.targets)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	now := h.Clock.Now()
	t, err := h.Totals.Totals(r.Context(), now.Add(-HealthyWindow))
	if err != nil {
		h.fail(w, "totals", err)
		return
	}
	writeJSON(w, statusResponse{Totals: t, GeneratedAt: now})
}

func (h *Handler) targets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := h.Targets.ListMonitored(ctx)
	if err != nil {
		h.fail(w, "list targets", err)
		return
	}

	tiers := map[int64]tenant.Tier{}
	out := make([]targetView, 0, len(list))
	for _, t := range list {
		tier, err := h.tier(ctx, tiers, t.TenantID)
		if err != nil {
			h.Log.Warn("tenant lookup for status", zap.Int64("tenant_id", t.TenantID), zap.Error(err))
		}
		v := targetView{
			ID:                  t.ID,
			TenantID:            t.TenantID,
			Name:                t.Name,
			Category:            string(t.Category),
			Status:              t.Status,
			LastCheck:           t.LastCheck,
			NextCheck:           h.Policy.NextCheck(tier, t.Category, t.LastCheck, h.Clock.Now()),
			Interval:            h.Policy.Interval(tier, t.Category).String(),
			LastError:           t.LastError,
			ConsecutiveFailures: t.ConsecutiveFailures,
			LastScore:           t.LastScore,
		}
		if t.Probe != nil {
			v.Method = string(t.Probe.Method())
		}
		out = append(out, v)
	}
	writeJSON(w, out)
}

func (h *Handler) tier(ctx context.Context, cache map[int64]tenant.Tier, id int64) (tenant.Tier, error) {
	if t, ok := cache[id]; ok {
		return t, nil
	}
	tn, err := h.Tenants.GetByID(ctx, id)
	if err != nil {
		cache[id] = tenant.TierFree
		return tenant.TierFree, err
	}
	cache[id] = tn.Tier
	return tn.Tier, nil
}

func (h *Handler) fail(w http.ResponseWriter, what string, err error) {
	h.Log.Error("status "+what, zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
