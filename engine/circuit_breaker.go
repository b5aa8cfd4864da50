package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int32

const (
	StateClosed   CircuitState = iota // normal operation
	StateOpen                         // failing, reject calls
	StateHalfOpen                     // testing if the engine recovered
)

// CircuitBreaker wraps the one external flaky call this system has: the
// ffmpeg/ffprobe subprocess invocation. Repeated non-zero exits trip the
// breaker so the worker stops hammering a broken ffmpeg binary instead of
// burning a full subprocess spawn per job.
type CircuitBreaker struct {
	name         string
	maxFailures  int32
	resetTimeout time.Duration
	halfOpenMax  int32

	failures      atomic.Int32
	lastFailTime  atomic.Int64
	state         atomic.Int32
	halfOpenTests atomic.Int32

	successCount  atomic.Int64
	failureCount  atomic.Int64
	rejectedCount atomic.Int64
}

func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		maxFailures:  int32(maxFailures),
		resetTimeout: resetTimeout,
		halfOpenMax:  3,
	}
}

// Call executes fn with circuit breaker protection.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func() error) error {
	if !cb.canAttempt() {
		cb.rejectedCount.Add(1)
		return fmt.Errorf("engine: circuit breaker open for %s", cb.name)
	}

	err := fn()
	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) canAttempt() bool {
	state := CircuitState(cb.state.Load())

	switch state {
	case StateClosed:
		return true
	case StateOpen:
		lastFail := cb.lastFailTime.Load()
		if time.Since(time.Unix(0, lastFail)) > cb.resetTimeout {
			if cb.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
				cb.halfOpenTests.Store(0)
			}
			return true
		}
		return false
	case StateHalfOpen:
		tests := cb.halfOpenTests.Add(1)
		return tests <= cb.halfOpenMax
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.successCount.Add(1)

	switch CircuitState(cb.state.Load()) {
	case StateHalfOpen:
		if cb.state.CompareAndSwap(int32(StateHalfOpen), int32(StateClosed)) {
			cb.failures.Store(0)
		}
	case StateClosed:
		cb.failures.Store(0)
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.failureCount.Add(1)
	failures := cb.failures.Add(1)
	cb.lastFailTime.Store(time.Now().UnixNano())

	switch CircuitState(cb.state.Load()) {
	case StateClosed:
		if failures >= cb.maxFailures {
			cb.state.Store(int32(StateOpen))
		}
	case StateHalfOpen:
		cb.state.Store(int32(StateOpen))
		cb.failures.Store(cb.maxFailures)
	}
}

// State returns the breaker's current state as a string.
func (cb *CircuitBreaker) State() string {
	switch CircuitState(cb.state.Load()) {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Stats returns counters for observability endpoints.
func (cb *CircuitBreaker) Stats() map[string]interface{} {
	return map[string]interface{}{
		"name":           cb.name,
		"state":          cb.State(),
		"failures":       cb.failures.Load(),
		"success_count":  cb.successCount.Load(),
		"failure_count":  cb.failureCount.Load(),
		"rejected_count": cb.rejectedCount.Load(),
	}
}

// CircuitBreakerManager lazily creates and keeps one breaker per engine
// operation (get_metadata, compress_video, ...) so a flaky codec path
// doesn't trip the breaker for unrelated operations.
type CircuitBreakerManager struct {
	breakers map[string]*CircuitBreaker
	mu       sync.RWMutex
}

func NewCircuitBreakerManager() *CircuitBreakerManager {
	return &CircuitBreakerManager{breakers: make(map[string]*CircuitBreaker)}
}

func (m *CircuitBreakerManager) GetBreaker(name string) *CircuitBreaker {
	m.mu.RLock()
	cb, exists := m.breakers[name]
	m.mu.RUnlock()
	if exists {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, exists = m.breakers[name]; exists {
		return cb
	}
	cb = NewCircuitBreaker(name, 5, 30*time.Second)
	m.breakers[name] = cb
	return cb
}

func (m *CircuitBreakerManager) AllStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]interface{}, len(m.breakers))
	for name, cb := range m.breakers {
		stats[name] = cb.Stats()
	}
	return stats
}
