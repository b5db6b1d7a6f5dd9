package provider

import "time"

const (
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold = 3
	// OpenCooldown is how long an open circuit rejects calls before one probe.
	OpenCooldown = 30 * time.Second
)

// Admit reports whether the router may call the provider now. An open circuit
// past its cooldown moves to half_open and admits the call as a probe.
func (r *Registry) Admit(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &r.runtimeLocked(id).Circuit
	if c.State != CircuitOpen {
		return true
	}
	if c.OpenedAt != 0 && r.now().UnixMilli()-c.OpenedAt < OpenCooldown.Milliseconds() {
		return false
	}
	c.State = CircuitHalfOpen
	return true
}

// RecordFailure counts one classified failure and reports whether the circuit
// is open afterwards.
func (r *Registry) RecordFailure(id string) bool {
	r.mu.Lock()
	now := r.now().UnixMilli()
	c := &r.runtimeLocked(id).Circuit
	c.Failures++
	c.LastFailureAt = now
	if c.Failures >= FailureThreshold {
		c.State = CircuitOpen
		c.OpenedAt = now
	}
	open := c.State == CircuitOpen
	r.mu.Unlock()

	r.metrics.SetCircuitOpen(id, open)
	return open
}

// RecordSuccess closes the circuit and clears the failure counter.
func (r *Registry) RecordSuccess(id string) {
	r.mu.Lock()
	c := &r.runtimeLocked(id).Circuit
	c.Failures = 0
	c.State = CircuitClosed
	c.OpenedAt = 0
	r.mu.Unlock()

	r.metrics.SetCircuitOpen(id, false)
}
