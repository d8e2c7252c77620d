package http

import (
	"context"
	"net/http"
	"time"

	"github.com/artpar/creditgate/pkg/jsonapi"
)

// Pinger checks a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck is one readiness dependency. A failing optional check marks
// the service degraded but keeps it ready; the webhook deduper is optional
// because deliveries are still applied idempotently without it.
type HealthCheck struct {
	Name     string
	Check    Pinger
	Optional bool
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	checks  []HealthCheck
	timeout time.Duration
}

func NewHealthHandler(checks ...HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 5 * time.Second}
}

// Liveness reports the process is serving requests. It never touches storage.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	jsonapi.WriteMeta(w, http.StatusOK, jsonapi.Meta{"status": "ok"})
}

// Readiness pings every dependency and answers 503 if a required one is down.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status, code := "ok", http.StatusOK
	results := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Check.Ping(ctx); err != nil {
			results[c.Name] = err.Error()
			if !c.Optional {
				status, code = "unavailable", http.StatusServiceUnavailable
			} else if status == "ok" {
				status = "degraded"
			}
			continue
		}
		results[c.Name] = "ok"
	}

	if code != http.StatusOK {
		w.Header().Set("Retry-After", "5")
	}
	jsonapi.WriteMeta(w, code, jsonapi.Meta{"status": status, "checks": results})
}

// VersionHandler serves build information as a "services" resource.
func VersionHandler(version string) http.HandlerFunc {
	if version == "" {
		version = "dev"
	}
	res := jsonapi.NewResource("services", "creditgate").Attr("version", version).Build()
	return func(w http.ResponseWriter, r *http.Request) {
		jsonapi.WriteResource(w, http.StatusOK, res)
	}
}
