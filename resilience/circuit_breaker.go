// Package resilience provides the circuit breaker and retry primitives.
// The circuit breaker guards cross-agent dependency calls made through
// agent.Base; the LLM client and the L2 cache tier do not use this package.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/localforge/fabric/core"
)

// CircuitState is the breaker's current gate position.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
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

// MetricsCollector receives circuit breaker events. Implementations must
// be safe for concurrent use; the breaker calls these on the hot path.
type MetricsCollector interface {
	RecordSuccess(name string)
	RecordFailure(name string, errorType string)
	RecordStateChange(name string, from, to string)
	RecordRejection(name string)
}

// noopMetrics discards every event; it is the default when Config.Metrics
// is left unset.
type noopMetrics struct{}

func (noopMetrics) RecordSuccess(name string)                      {}
func (noopMetrics) RecordFailure(name string, errorType string)    {}
func (noopMetrics) RecordStateChange(name string, from, to string) {}
func (noopMetrics) RecordRejection(name string)                    {}

// ErrorClassifier decides whether err should count toward the breaker's
// error rate. User errors (bad_request, not_found) must not trip the
// breaker for what is really caller mistake, not upstream instability.
type ErrorClassifier func(error) bool

// DefaultErrorClassifier counts everything except bad_request/not_found
// and context cancellation.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch core.KindOf(err) {
	case core.KindBadRequest, core.KindNotFound:
		return false
	default:
		return true
	}
}

// Config configures a CircuitBreaker.
type Config struct {
	Name             string
	ErrorThreshold   float64       // error rate [0,1] that trips the breaker
	VolumeThreshold  int           // minimum requests before evaluation
	SleepWindow      time.Duration // time spent open before probing half-open
	HalfOpenRequests int           // trial requests allowed while half-open
	SuccessThreshold float64       // success rate needed to close from half-open
	WindowSize       time.Duration
	BucketCount      int
	ErrorClassifier  ErrorClassifier
	Logger           core.Logger
	Metrics          MetricsCollector
}

// DefaultBreakerConfig returns production-sane defaults.
func DefaultBreakerConfig(name string) *Config {
	return &Config{
		Name:             name,
		ErrorThreshold:   0.5,
		VolumeThreshold:  10,
		SleepWindow:      30 * time.Second,
		HalfOpenRequests: 5,
		SuccessThreshold: 0.6,
		WindowSize:       60 * time.Second,
		BucketCount:      10,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           &core.NoOpLogger{},
		Metrics:          noopMetrics{},
	}
}

func (c *Config) validate() error {
	if c.ErrorThreshold <= 0 || c.ErrorThreshold > 1 {
		return fmt.Errorf("error threshold must be in (0,1]")
	}
	if c.VolumeThreshold <= 0 {
		return fmt.Errorf("volume threshold must be positive")
	}
	if c.WindowSize <= 0 || c.BucketCount <= 0 {
		return fmt.Errorf("window size and bucket count must be positive")
	}
	return nil
}

// CircuitBreaker guards a dependency call, opening after a sustained error
// rate and probing recovery with a bounded number of half-open trials.
type CircuitBreaker struct {
	config *Config

	state          atomic.Value // CircuitState
	stateChangedAt atomic.Value // time.Time

	window *SlidingWindow

	halfOpenAllowed atomic.Int32
	halfOpenSucc    atomic.Int32
	halfOpenFail    atomic.Int32

	mu sync.Mutex
}

// NewCircuitBreaker constructs a CircuitBreaker from config, defaulting
// unset fields.
func NewCircuitBreaker(config *Config) (*CircuitBreaker, error) {
	if config == nil {
		config = DefaultBreakerConfig("default")
	}
	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = noopMetrics{}
	}
	if err := config.validate(); err != nil {
		return nil, core.NewError("resilience.NewCircuitBreaker", core.KindBadRequest, err)
	}
	cb := &CircuitBreaker{
		config: config,
		window: NewSlidingWindow(config.WindowSize, config.BucketCount),
	}
	cb.state.Store(StateClosed)
	cb.stateChangedAt.Store(time.Now())
	return cb, nil
}

// Execute runs fn if the breaker allows it, recording the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.allow() {
		return core.NewError("resilience.Execute", core.KindUpstreamUnavailable, core.ErrCircuitBreakerOpen)
	}

	err := fn()
	cb.record(err)
	return err
}

// ExecuteWithTimeout runs fn with a bounded deadline in addition to the
// breaker gate.
func (cb *CircuitBreaker) ExecuteWithTimeout(ctx context.Context, timeout time.Duration, fn func() error) error {
	if !cb.allow() {
		return core.NewError("resilience.ExecuteWithTimeout", core.KindUpstreamUnavailable, core.ErrCircuitBreakerOpen)
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(timeout):
		err = core.NewError("resilience.ExecuteWithTimeout", core.KindUpstreamTimeout, core.ErrTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.state.Load().(CircuitState)
	switch state {
	case StateClosed:
		return true
	case StateOpen:
		changedAt := cb.stateChangedAt.Load().(time.Time)
		if time.Since(changedAt) >= cb.config.SleepWindow {
			cb.transitionLocked(StateOpen, StateHalfOpen)
			cb.halfOpenAllowed.Store(int32(cb.config.HalfOpenRequests))
			cb.halfOpenSucc.Store(0)
			cb.halfOpenFail.Store(0)
			if cb.halfOpenAllowed.Add(-1) >= 0 {
				return true
			}
			cb.config.Metrics.RecordRejection(cb.config.Name)
			return false
		}
		cb.config.Metrics.RecordRejection(cb.config.Name)
		return false
	case StateHalfOpen:
		if cb.halfOpenAllowed.Add(-1) >= 0 {
			return true
		}
		cb.config.Metrics.RecordRejection(cb.config.Name)
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) record(err error) {
	counts := cb.config.ErrorClassifier(err)
	if counts {
		cb.config.Metrics.RecordFailure(cb.config.Name, string(core.KindOf(err)))
	} else {
		cb.config.Metrics.RecordSuccess(cb.config.Name)
	}

	cb.mu.Lock()
	state := cb.state.Load().(CircuitState)
	cb.mu.Unlock()

	if state == StateHalfOpen {
		if counts {
			cb.halfOpenFail.Add(1)
		} else {
			cb.halfOpenSucc.Add(1)
		}
		cb.evaluateHalfOpen()
		return
	}

	if counts {
		cb.window.RecordFailure()
	} else {
		cb.window.RecordSuccess()
	}
	cb.evaluateClosed()
}

func (cb *CircuitBreaker) evaluateClosed() {
	success, failure := cb.window.GetCounts()
	total := success + failure
	if int(total) < cb.config.VolumeThreshold {
		return
	}
	if float64(failure)/float64(total) >= cb.config.ErrorThreshold {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		if cb.state.Load().(CircuitState) == StateClosed {
			cb.transitionLocked(StateClosed, StateOpen)
			cb.config.Logger.Warn("circuit breaker opened", map[string]interface{}{
				"name": cb.config.Name, "error_rate": float64(failure) / float64(total),
			})
		}
	}
}

func (cb *CircuitBreaker) evaluateHalfOpen() {
	succ := cb.halfOpenSucc.Load()
	fail := cb.halfOpenFail.Load()
	total := succ + fail
	if total < int32(cb.config.HalfOpenRequests) {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state.Load().(CircuitState) != StateHalfOpen {
		return
	}
	if float64(succ)/float64(total) >= cb.config.SuccessThreshold {
		cb.transitionLocked(StateHalfOpen, StateClosed)
		cb.window.reset()
		cb.config.Logger.Info("circuit breaker closed after recovery", map[string]interface{}{"name": cb.config.Name})
	} else {
		cb.transitionLocked(StateHalfOpen, StateOpen)
		cb.config.Logger.Warn("circuit breaker reopened after failed probe", map[string]interface{}{"name": cb.config.Name})
	}
}

// transitionLocked moves the breaker to newState and reports the
// transition to the configured metrics collector. Caller must hold cb.mu.
func (cb *CircuitBreaker) transitionLocked(from, to CircuitState) {
	cb.state.Store(to)
	cb.stateChangedAt.Store(time.Now())
	cb.config.Metrics.RecordStateChange(cb.config.Name, from.String(), to.String())
}

// State returns the breaker's current position.
func (cb *CircuitBreaker) State() CircuitState {
	return cb.state.Load().(CircuitState)
}

// ForceOpen manually trips the breaker regardless of observed error rate.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(cb.state.Load().(CircuitState), StateOpen)
}

// ForceClosed manually resets the breaker to closed.
func (cb *CircuitBreaker) ForceClosed() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(cb.state.Load().(CircuitState), StateClosed)
	cb.window.reset()
}

// bucket is one time-sliced counter pair in the sliding window.
type bucket struct {
	timestamp time.Time
	success   uint64
	failure   uint64
}

// SlidingWindow tracks success/failure counts over a rolling window using
// fixed-size rotating buckets, with clock-skew protection: if wall time
// ever moves backward the window resets rather than producing negative
// elapsed durations.
type SlidingWindow struct {
	buckets      []bucket
	windowSize   time.Duration
	bucketSize   time.Duration
	currentIdx   int
	lastRotation time.Time
	mu           sync.RWMutex
}

// NewSlidingWindow builds a window of windowSize split into bucketCount buckets.
func NewSlidingWindow(windowSize time.Duration, bucketCount int) *SlidingWindow {
	if bucketCount <= 0 {
		bucketCount = 10
	}
	now := time.Now()
	buckets := make([]bucket, bucketCount)
	for i := range buckets {
		buckets[i].timestamp = now
	}
	return &SlidingWindow{
		buckets:      buckets,
		windowSize:   windowSize,
		bucketSize:   windowSize / time.Duration(bucketCount),
		lastRotation: now,
	}
}

func (sw *SlidingWindow) rotateBuckets() {
	now := time.Now()
	elapsed := now.Sub(sw.lastRotation)

	if elapsed < 0 {
		sw.resetLocked(now)
		return
	}
	if elapsed < sw.bucketSize {
		return
	}

	toRotate := int(elapsed / sw.bucketSize)
	if toRotate > len(sw.buckets) {
		toRotate = len(sw.buckets)
	}
	for i := 0; i < toRotate; i++ {
		sw.currentIdx = (sw.currentIdx + 1) % len(sw.buckets)
		sw.buckets[sw.currentIdx] = bucket{timestamp: now}
	}
	sw.lastRotation = now
}

func (sw *SlidingWindow) resetLocked(now time.Time) {
	for i := range sw.buckets {
		sw.buckets[i] = bucket{timestamp: now}
	}
	sw.currentIdx = 0
	sw.lastRotation = now
}

func (sw *SlidingWindow) reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.resetLocked(time.Now())
}

// RecordSuccess records one successful operation in the current bucket.
func (sw *SlidingWindow) RecordSuccess() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.rotateBuckets()
	sw.buckets[sw.currentIdx].success++
}

// RecordFailure records one failed operation in the current bucket.
func (sw *SlidingWindow) RecordFailure() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.rotateBuckets()
	sw.buckets[sw.currentIdx].failure++
}

// GetCounts returns success/failure totals within windowSize of now.
func (sw *SlidingWindow) GetCounts() (success, failure uint64) {
	sw.mu.RLock()
	defer sw.mu.RUnlock()
	cutoff := time.Now().Add(-sw.windowSize)
	for i := range sw.buckets {
		if sw.buckets[i].timestamp.After(cutoff) {
			success += sw.buckets[i].success
			failure += sw.buckets[i].failure
		}
	}
	return success, failure
}
