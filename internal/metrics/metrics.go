// Package metrics tracks kiln-controller counters and exposes them as JSON
// and Prometheus text, mirroring the flow-engine metrics surface the
// teacher exposed but scoped to firing/PID/API concerns instead of
// flows/nodes.
package metrics

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Metrics accumulates kiln-controller counters for the /metrics endpoint.
type Metrics struct {
	// Firing metrics
	TotalFirings     int64 `json:"total_firings"`
	ActiveFirings    int64 `json:"active_firings"`
	CompletedFirings int64 `json:"completed_firings"`
	AbortedFirings   int64 `json:"aborted_firings"`
	ErroredFirings   int64 `json:"errored_firings"`
	EmergencyStops   int64 `json:"emergency_stops"`

	// Live control-loop metrics (gauges, set each tick by the controller)
	CurrentTempC        float64 `json:"current_temp_c"`
	CurrentSetpointC     float64 `json:"current_setpoint_c"`
	CurrentDutyPercent   float64 `json:"current_duty_percent"`
	ElementHoursSeconds  float64 `json:"element_hours_seconds"`

	// System metrics
	Uptime         int64   `json:"uptime_seconds"`
	MemoryUsed     uint64  `json:"memory_used_bytes"`
	MemoryTotal    uint64  `json:"memory_total_bytes"`
	GoroutineCount int     `json:"goroutine_count"`

	// API metrics
	TotalRequests   int64   `json:"total_requests"`
	TotalErrors     int64   `json:"total_errors"`
	AvgResponseTime float64 `json:"avg_response_time_ms"`

	mu        sync.RWMutex
	startTime time.Time
}

// NewMetrics creates an empty Metrics, stamping the process start time.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// RecordFiringStarted increments the firing and active-firing counters.
func (m *Metrics) RecordFiringStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalFirings++
	m.ActiveFirings++
}

// RecordFiringEnded decrements ActiveFirings and bumps the matching
// outcome counter.
func (m *Metrics) RecordFiringEnded(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ActiveFirings > 0 {
		m.ActiveFirings--
	}
	switch outcome {
	case "Complete":
		m.CompletedFirings++
	case "Aborted":
		m.AbortedFirings++
	case "Error":
		m.ErroredFirings++
	}
}

// RecordEmergencyStop increments the emergency-stop counter.
func (m *Metrics) RecordEmergencyStop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EmergencyStops++
}

// SetLiveGauges updates the control-loop gauges; called once per tick from
// the controller's telemetry task.
func (m *Metrics) SetLiveGauges(tempC, setpointC, dutyPercent, elementHoursSeconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CurrentTempC = tempC
	m.CurrentSetpointC = setpointC
	m.CurrentDutyPercent = dutyPercent
	m.ElementHoursSeconds = elementHoursSeconds
}

// IncrementRequests increments the total-requests counter.
func (m *Metrics) IncrementRequests() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalRequests++
}

// IncrementErrors increments the total-errors counter.
func (m *Metrics) IncrementErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalErrors++
}

// RecordResponseTime folds a request duration into the moving-average
// response time.
func (m *Metrics) RecordResponseTime(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms := float64(duration.Milliseconds())
	if m.AvgResponseTime == 0 {
		m.AvgResponseTime = ms
	} else {
		m.AvgResponseTime = (m.AvgResponseTime * 0.9) + (ms * 0.1)
	}
}

// UpdateSystemMetrics refreshes uptime, memory, and goroutine counts.
func (m *Metrics) UpdateSystemMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Uptime = int64(time.Since(m.startTime).Seconds())

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.MemoryUsed = memStats.Alloc
	m.MemoryTotal = memStats.Sys

	m.GoroutineCount = runtime.NumGoroutine()
}

// GetMetrics returns a JSON-ready snapshot.
func (m *Metrics) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"firings": map[string]interface{}{
			"total":           m.TotalFirings,
			"active":          m.ActiveFirings,
			"completed":       m.CompletedFirings,
			"aborted":         m.AbortedFirings,
			"errored":         m.ErroredFirings,
			"emergency_stops": m.EmergencyStops,
		},
		"control_loop": map[string]interface{}{
			"current_temp_c":        m.CurrentTempC,
			"current_setpoint_c":    m.CurrentSetpointC,
			"current_duty_percent":  m.CurrentDutyPercent,
			"element_hours_seconds": m.ElementHoursSeconds,
		},
		"system": map[string]interface{}{
			"uptime_seconds":     m.Uptime,
			"memory_used_bytes":  m.MemoryUsed,
			"memory_total_bytes": m.MemoryTotal,
			"memory_used_mb":     m.MemoryUsed / 1024 / 1024,
			"goroutines":         m.GoroutineCount,
		},
		"api": map[string]interface{}{
			"total_requests":       m.TotalRequests,
			"total_errors":         m.TotalErrors,
			"avg_response_time_ms": m.AvgResponseTime,
			"error_rate": func() float64 {
				if m.TotalRequests == 0 {
					return 0.0
				}
				return float64(m.TotalErrors) / float64(m.TotalRequests) * 100
			}(),
		},
	}
}

// PrometheusFormat renders the current snapshot as Prometheus text
// exposition format.
func (m *Metrics) PrometheusFormat() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return `# HELP kilnd_firings_total Total number of firings started
# TYPE kilnd_firings_total counter
kilnd_firings_total ` + formatInt64(m.TotalFirings) + `

# HELP kilnd_firings_active Number of firings currently active
# TYPE kilnd_firings_active gauge
kilnd_firings_active ` + formatInt64(m.ActiveFirings) + `

# HELP kilnd_firings_completed Total number of firings that completed normally
# TYPE kilnd_firings_completed counter
kilnd_firings_completed ` + formatInt64(m.CompletedFirings) + `

# HELP kilnd_firings_aborted Total number of firings stopped by operator command
# TYPE kilnd_firings_aborted counter
kilnd_firings_aborted ` + formatInt64(m.AbortedFirings) + `

# HELP kilnd_firings_errored Total number of firings that ended in Error
# TYPE kilnd_firings_errored counter
kilnd_firings_errored ` + formatInt64(m.ErroredFirings) + `

# HELP kilnd_emergency_stops_total Total number of safety-supervisor emergency latches
# TYPE kilnd_emergency_stops_total counter
kilnd_emergency_stops_total ` + formatInt64(m.EmergencyStops) + `

# HELP kilnd_current_temp_c Most recent thermocouple reading in Celsius
# TYPE kilnd_current_temp_c gauge
kilnd_current_temp_c ` + formatFloat64(m.CurrentTempC) + `

# HELP kilnd_current_setpoint_c Current PID setpoint in Celsius
# TYPE kilnd_current_setpoint_c gauge
kilnd_current_setpoint_c ` + formatFloat64(m.CurrentSetpointC) + `

# HELP kilnd_current_duty_percent Current SSR duty cycle, 0-100
# TYPE kilnd_current_duty_percent gauge
kilnd_current_duty_percent ` + formatFloat64(m.CurrentDutyPercent) + `

# HELP kilnd_element_hours_seconds Cumulative element-on seconds
# TYPE kilnd_element_hours_seconds counter
kilnd_element_hours_seconds ` + formatFloat64(m.ElementHoursSeconds) + `

# HELP kilnd_uptime_seconds Process uptime in seconds
# TYPE kilnd_uptime_seconds gauge
kilnd_uptime_seconds ` + formatInt64(m.Uptime) + `

# HELP kilnd_memory_used_bytes Memory used in bytes
# TYPE kilnd_memory_used_bytes gauge
kilnd_memory_used_bytes ` + formatUint64(m.MemoryUsed) + `

# HELP kilnd_goroutines Number of goroutines
# TYPE kilnd_goroutines gauge
kilnd_goroutines ` + formatInt(m.GoroutineCount) + `

# HELP kilnd_api_requests_total Total number of API requests
# TYPE kilnd_api_requests_total counter
kilnd_api_requests_total ` + formatInt64(m.TotalRequests) + `

# HELP kilnd_api_errors_total Total number of API errors
# TYPE kilnd_api_errors_total counter
kilnd_api_errors_total ` + formatInt64(m.TotalErrors) + `

# HELP kilnd_api_response_time_ms Average API response time in milliseconds
# TYPE kilnd_api_response_time_ms gauge
kilnd_api_response_time_ms ` + formatFloat64(m.AvgResponseTime) + `
`
}

// MetricsMiddleware is a fiber middleware that records request counts,
// errors, and response latency into m.
func MetricsMiddleware(m *Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		m.IncrementRequests()

		err := c.Next()

		duration := time.Since(start)
		m.RecordResponseTime(duration)

		if c.Response().StatusCode() >= 400 {
			m.IncrementErrors()
		}

		return err
	}
}

func formatInt64(n int64) string    { return fmt.Sprintf("%d", n) }
func formatUint64(n uint64) string  { return fmt.Sprintf("%d", n) }
func formatInt(n int) string        { return fmt.Sprintf("%d", n) }
func formatFloat64(n float64) string { return fmt.Sprintf("%.2f", n) }
