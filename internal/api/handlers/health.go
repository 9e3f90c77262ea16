// health.go — служебные endpoints: /health/live, /health/ready и /metrics.
package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/memberhub/access-module/internal/config"
)

const serviceName = "access-module"

// Статусы проверок готовности.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// ReadinessChecker — проверка готовности одной зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady(ctx context.Context) (status string, message string)
}

// NamedChecker — проверка с именем зависимости в ответе /health/ready.
type NamedChecker struct {
	Name    string
	Checker ReadinessChecker
}

// HealthHandler — обработчик служебных endpoints.
type HealthHandler struct {
	checkers    []NamedChecker
	timeout     time.Duration
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик служебных endpoints.
// Все проверки выполняются параллельно и укладываются в timeout;
// Checker == nil означает неинициализированную зависимость (fail).
func NewHealthHandler(timeout time.Duration, checkers ...NamedChecker) *HealthHandler {
	return &HealthHandler{
		checkers:    checkers,
		timeout:     timeout,
		promHandler: promhttp.Handler(),
	}
}

type healthCheckResult struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

type healthReadyResponse struct {
	healthLiveResponse
	Checks map[string]healthCheckResult `json:"checks"`
}

func newLiveResponse(status string) healthLiveResponse {
	return healthLiveResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	}
}

// HealthLive — GET /health/live, процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newLiveResponse(statusOK))
}

// HealthReady — GET /health/ready: 200 при ok/degraded, 503 при fail.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	checks := h.runChecks(r.Context())

	resp := healthReadyResponse{Checks: checks}
	statuses := make([]string, 0, len(checks))
	for _, c := range checks {
		statuses = append(statuses, c.Status)
	}
	resp.healthLiveResponse = newLiveResponse(overallStatus(statuses...))

	status := http.StatusOK
	if resp.Status == statusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// runChecks опрашивает зависимости параллельно. Проверка, не уложившаяся
// в таймаут, получает fail, даже если checker не следит за контекстом.
func (h *HealthHandler) runChecks(ctx context.Context) map[string]healthCheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]healthCheckResult, len(h.checkers))
	)
	for _, c := range h.checkers {
		if c.Checker == nil {
			results[c.Name] = healthCheckResult{Status: statusFail, Message: "не инициализирован"}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			started := time.Now()
			done := make(chan healthCheckResult, 1)
			go func() {
				status, msg := c.Checker.CheckReady(ctx)
				done <- healthCheckResult{Status: status, Message: msg}
			}()

			var res healthCheckResult
			select {
			case res = <-done:
			case <-ctx.Done():
				res = healthCheckResult{Status: statusFail, Message: "таймаут проверки"}
			}
			res.LatencyMS = time.Since(started).Milliseconds()

			mu.Lock()
			results[c.Name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// GetMetrics — GET /metrics.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus: fail важнее degraded, degraded важнее ok.
func overallStatus(statuses ...string) string {
	result := statusOK
	for _, s := range statuses {
		switch s {
		case statusFail:
			return statusFail
		case statusDegraded:
			result = statusDegraded
		}
	}
	return result
}
