package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks system health and performance metrics
type Metrics struct {
	// Oracle call metrics
	OracleCalls       atomic.Int64 // Total oracle calls
	OracleSuccesses   atomic.Int64 // Successful oracle calls
	OracleErrors      atomic.Int64 // Failed oracle calls
	LastOracleTime    atomic.Value // time.Time of last call
	LastOracleMs      atomic.Int64 // Duration in milliseconds
	LastOracleError   atomic.Value // Last error message (string)
	ConsecutiveErrors atomic.Int64 // Consecutive oracle failures

	// WebSocket metrics
	ConnectionsTotal   atomic.Int64 // Total connections ever made
	ConnectionsCurrent atomic.Int64 // Current active connections
	ConnectionsPeak    atomic.Int64 // Peak concurrent connections
	MessagesOut        atomic.Int64 // Messages sent to clients
	MessagesFailed     atomic.Int64 // Failed message sends
	BytesOut           atomic.Int64 // Total bytes sent
	BroadcastCount     atomic.Int64 // Number of broadcasts sent

	// Verification metrics
	PicksVerified atomic.Int64 // Verification attempts that completed
	PicksResolved atomic.Int64 // Verifications that settled the main market

	// System health
	StartTime time.Time
	mu        sync.RWMutex
	opMetrics map[string]*OperationMetrics
	topicSubs map[string]int64
}

// OperationMetrics tracks per-oracle-operation metrics
type OperationMetrics struct {
	Operation      string    `json:"operation"`
	CallCount      int64     `json:"call_count"`
	ErrorCount     int64     `json:"error_count"`
	LastCallTime   time.Time `json:"last_call_time"`
	LastDurationMs int64     `json:"last_duration_ms"`
}

// New creates a new Metrics instance
func New() *Metrics {
	m := &Metrics{
		StartTime: time.Now(),
		opMetrics: make(map[string]*OperationMetrics),
		topicSubs: make(map[string]int64),
	}
	m.LastOracleTime.Store(time.Time{})
	m.LastOracleError.Store("")
	return m
}

// RecordOracleStart marks the start of an oracle call
func (m *Metrics) RecordOracleStart() time.Time {
	return time.Now()
}

// RecordOracleSuccess records a successful oracle call
func (m *Metrics) RecordOracleSuccess(start time.Time, operation string) {
	duration := time.Since(start)

	m.OracleCalls.Add(1)
	m.OracleSuccesses.Add(1)
	m.LastOracleTime.Store(time.Now())
	m.LastOracleMs.Store(duration.Milliseconds())
	m.ConsecutiveErrors.Store(0)
	m.LastOracleError.Store("")

	m.mu.Lock()
	op := m.op(operation)
	op.CallCount++
	op.LastCallTime = time.Now()
	op.LastDurationMs = duration.Milliseconds()
	m.mu.Unlock()
}

// RecordOracleError records a failed oracle call
func (m *Metrics) RecordOracleError(start time.Time, operation string, err error) {
	m.OracleCalls.Add(1)
	m.OracleErrors.Add(1)
	m.LastOracleTime.Store(time.Now())
	m.LastOracleMs.Store(time.Since(start).Milliseconds())
	m.ConsecutiveErrors.Add(1)
	m.LastOracleError.Store(err.Error())

	m.mu.Lock()
	op := m.op(operation)
	op.CallCount++
	op.ErrorCount++
	op.LastCallTime = time.Now()
	op.LastDurationMs = time.Since(start).Milliseconds()
	m.mu.Unlock()
}

// op returns the per-operation record. Callers hold the lock.
func (m *Metrics) op(operation string) *OperationMetrics {
	if m.opMetrics[operation] == nil {
		m.opMetrics[operation] = &OperationMetrics{Operation: operation}
	}
	return m.opMetrics[operation]
}

// RecordVerification records a completed verification and whether it settled
// the pick's main market.
func (m *Metrics) RecordVerification(resolved bool) {
	m.PicksVerified.Add(1)
	if resolved {
		m.PicksResolved.Add(1)
	}
}

// RecordBroadcast records a broadcast to clients
func (m *Metrics) RecordBroadcast(messageSize int, clientCount int) {
	m.BroadcastCount.Add(1)
	m.MessagesOut.Add(int64(clientCount))
	m.BytesOut.Add(int64(messageSize * clientCount))
}

// RecordMessageFailed records a failed message send
func (m *Metrics) RecordMessageFailed() {
	m.MessagesFailed.Add(1)
}

// RecordConnection records a new WebSocket connection
func (m *Metrics) RecordConnection() {
	m.ConnectionsTotal.Add(1)
	current := m.ConnectionsCurrent.Add(1)

	// Update peak if necessary
	for {
		peak := m.ConnectionsPeak.Load()
		if current <= peak {
			break
		}
		if m.ConnectionsPeak.CompareAndSwap(peak, current) {
			break
		}
	}
}

// RecordDisconnection records a WebSocket disconnection
func (m *Metrics) RecordDisconnection() {
	m.ConnectionsCurrent.Add(-1)
}

// UpdateSubscriberCount updates subscriber count for a topic
func (m *Metrics) UpdateSubscriberCount(topic string, count int64) {
	m.mu.Lock()
	m.topicSubs[topic] = count
	m.mu.Unlock()
}

// HealthStatus represents the system health
type HealthStatus struct {
	Status        string                       `json:"status"` // "healthy", "degraded", "unhealthy"
	Uptime        string                       `json:"uptime"`
	UptimeSeconds int64                        `json:"uptime_seconds"`
	Oracle        OracleHealth                 `json:"oracle"`
	WebSocket     WebSocketHealth              `json:"websocket"`
	Verification  VerificationHealth           `json:"verification"`
	Operations    map[string]*OperationMetrics `json:"operations"`
	Warnings      []string                     `json:"warnings,omitempty"`
}

type OracleHealth struct {
	TotalCalls        int64     `json:"total_calls"`
	SuccessfulCalls   int64     `json:"successful_calls"`
	FailedCalls       int64     `json:"failed_calls"`
	SuccessRate       float64   `json:"success_rate_percent"`
	LastCallTime      time.Time `json:"last_call_time"`
	LastCallAgo       string    `json:"last_call_ago"`
	LastDurationMs    int64     `json:"last_duration_ms"`
	ConsecutiveErrors int64     `json:"consecutive_errors"`
	LastError         string    `json:"last_error,omitempty"`
}

type WebSocketHealth struct {
	CurrentConnections int64            `json:"current_connections"`
	PeakConnections    int64            `json:"peak_connections"`
	TotalConnections   int64            `json:"total_connections"`
	MessagesSent       int64            `json:"messages_sent"`
	MessagesFailed     int64            `json:"messages_failed"`
	DeliveryRate       float64          `json:"delivery_rate_percent"`
	BytesSent          int64            `json:"bytes_sent"`
	BroadcastCount     int64            `json:"broadcast_count"`
	Subscribers        map[string]int64 `json:"subscribers"`
}

type VerificationHealth struct {
	AutoVerifyEnabled bool  `json:"auto_verify_enabled"`
	PicksVerified     int64 `json:"picks_verified"`
	PicksResolved     int64 `json:"picks_resolved"`
}

// GetHealth returns current health status
func (m *Metrics) GetHealth(autoVerifyEnabled bool) HealthStatus {
	uptime := time.Since(m.StartTime)

	totalCalls := m.OracleCalls.Load()
	successCalls := m.OracleSuccesses.Load()
	failedCalls := m.OracleErrors.Load()

	var successRate float64
	if totalCalls > 0 {
		successRate = float64(successCalls) / float64(totalCalls) * 100
	}

	messagesSent := m.MessagesOut.Load()
	messagesFailed := m.MessagesFailed.Load()
	var deliveryRate float64
	if messagesSent+messagesFailed > 0 {
		deliveryRate = float64(messagesSent) / float64(messagesSent+messagesFailed) * 100
	}

	lastCallTime := m.LastOracleTime.Load().(time.Time)
	lastError := m.LastOracleError.Load().(string)

	// Determine overall health status
	status := "healthy"
	var warnings []string

	consecutiveErrors := m.ConsecutiveErrors.Load()
	if consecutiveErrors >= 5 {
		status = "unhealthy"
		warnings = append(warnings, "High consecutive oracle errors")
	} else if consecutiveErrors >= 3 {
		status = "degraded"
		warnings = append(warnings, "Multiple consecutive oracle errors")
	}

	if deliveryRate < 95 && messagesSent > 100 {
		warnings = append(warnings, "Message delivery rate below 95%")
	}

	// Build operation metrics snapshot
	m.mu.RLock()
	ops := make(map[string]*OperationMetrics)
	for k, v := range m.opMetrics {
		opCopy := *v
		ops[k] = &opCopy
	}
	subs := make(map[string]int64)
	for k, v := range m.topicSubs {
		subs[k] = v
	}
	m.mu.RUnlock()

	var lastCallAgo string
	if !lastCallTime.IsZero() {
		lastCallAgo = time.Since(lastCallTime).Round(time.Second).String()
	}

	return HealthStatus{
		Status:        status,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		Oracle: OracleHealth{
			TotalCalls:        totalCalls,
			SuccessfulCalls:   successCalls,
			FailedCalls:       failedCalls,
			SuccessRate:       successRate,
			LastCallTime:      lastCallTime,
			LastCallAgo:       lastCallAgo,
			LastDurationMs:    m.LastOracleMs.Load(),
			ConsecutiveErrors: consecutiveErrors,
			LastError:         lastError,
		},
		WebSocket: WebSocketHealth{
			CurrentConnections: m.ConnectionsCurrent.Load(),
			PeakConnections:    m.ConnectionsPeak.Load(),
			TotalConnections:   m.ConnectionsTotal.Load(),
			MessagesSent:       messagesSent,
			MessagesFailed:     messagesFailed,
			DeliveryRate:       deliveryRate,
			BytesSent:          m.BytesOut.Load(),
			BroadcastCount:     m.BroadcastCount.Load(),
			Subscribers:        subs,
		},
		Verification: VerificationHealth{
			AutoVerifyEnabled: autoVerifyEnabled,
			PicksVerified:     m.PicksVerified.Load(),
			PicksResolved:     m.PicksResolved.Load(),
		},
		Operations: ops,
		Warnings:   warnings,
	}
}

// JSON returns metrics as JSON
func (m *Metrics) JSON(autoVerifyEnabled bool) ([]byte, error) {
	return json.Marshal(m.GetHealth(autoVerifyEnabled))
}
