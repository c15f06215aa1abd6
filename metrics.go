package shorthand

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks export performance metrics using lock-free atomic
// operations. All methods are safe for concurrent use.
type Metrics struct {
	// Document counts
	documentsTotal atomic.Uint64
	documentsValid atomic.Uint64

	// Rule counts
	rulesApplied atomic.Uint64
	rulesFailed  atomic.Uint64

	// Timing (stored as nanoseconds)
	exportTimeTotal atomic.Uint64
	exportTimeMin   atomic.Uint64
	exportTimeMax   atomic.Uint64

	// Schema cache metrics
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64

	// Inline memo metrics
	memoHits   atomic.Uint64
	memoMisses atomic.Uint64

	// Pool metrics
	poolAcquires atomic.Uint64
	poolReleases atomic.Uint64

	// Diagnostic counts by severity
	errorsTotal   atomic.Uint64
	warningsTotal atomic.Uint64
	infosTotal    atomic.Uint64

	// Per-stage timing (map access protected internally)
	stageTiming sync.Map // map[string]*stageMetrics
}

// stageMetrics tracks metrics for a single export stage.
type stageMetrics struct {
	invocations atomic.Uint64
	totalTime   atomic.Uint64 // nanoseconds
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	// Initialize min to max uint64 so first value becomes the minimum
	m.exportTimeMin.Store(^uint64(0))
	return m
}

// --- Recording Methods ---

// RecordExport records a completed document export.
func (m *Metrics) RecordExport(duration time.Duration, valid bool) {
	m.documentsTotal.Add(1)
	if valid {
		m.documentsValid.Add(1)
	}

	ns := uint64(duration.Nanoseconds()) //nolint:gosec // Safe: nanoseconds are always positive for valid durations
	m.exportTimeTotal.Add(ns)

	// Update min (CAS loop)
	for {
		old := m.exportTimeMin.Load()
		if ns >= old {
			break
		}
		if m.exportTimeMin.CompareAndSwap(old, ns) {
			break
		}
	}

	// Update max (CAS loop)
	for {
		old := m.exportTimeMax.Load()
		if ns <= old {
			break
		}
		if m.exportTimeMax.CompareAndSwap(old, ns) {
			break
		}
	}
}

// RecordRuleApplied records a successfully applied rule.
func (m *Metrics) RecordRuleApplied() {
	m.rulesApplied.Add(1)
}

// RecordRuleFailed records a rejected rule.
func (m *Metrics) RecordRuleFailed() {
	m.rulesFailed.Add(1)
}

// RecordCacheHit records a schema cache hit.
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Add(1)
}

// RecordCacheMiss records a schema cache miss.
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Add(1)
}

// RecordMemoHit records an inline-export memo hit.
func (m *Metrics) RecordMemoHit() {
	m.memoHits.Add(1)
}

// RecordMemoMiss records an inline-export memo miss.
func (m *Metrics) RecordMemoMiss() {
	m.memoMisses.Add(1)
}

// RecordPoolAcquire records a pool acquire operation.
func (m *Metrics) RecordPoolAcquire() {
	m.poolAcquires.Add(1)
}

// RecordPoolRelease records a pool release operation.
func (m *Metrics) RecordPoolRelease() {
	m.poolReleases.Add(1)
}

// RecordDiagnostic records a diagnostic based on severity.
func (m *Metrics) RecordDiagnostic(severity Severity) {
	switch severity {
	case SeverityError, SeverityFatal:
		m.errorsTotal.Add(1)
	case SeverityWarning:
		m.warningsTotal.Add(1)
	case SeverityInformation:
		m.infosTotal.Add(1)
	}
}

// RecordStage records timing for an export stage.
func (m *Metrics) RecordStage(stageName string, duration time.Duration) {
	sm := m.getOrCreateStageMetrics(stageName)
	sm.invocations.Add(1)
	sm.totalTime.Add(uint64(duration.Nanoseconds())) //nolint:gosec // Safe: nanoseconds are always positive
}

func (m *Metrics) getOrCreateStageMetrics(name string) *stageMetrics {
	if v, ok := m.stageTiming.Load(name); ok {
		return v.(*stageMetrics)
	}
	sm := &stageMetrics{}
	actual, _ := m.stageTiming.LoadOrStore(name, sm)
	return actual.(*stageMetrics)
}

// --- Query Methods ---

// DocumentsTotal returns the total number of documents exported.
func (m *Metrics) DocumentsTotal() uint64 {
	return m.documentsTotal.Load()
}

// DocumentsValid returns the number of documents exported without errors.
func (m *Metrics) DocumentsValid() uint64 {
	return m.documentsValid.Load()
}

// SuccessRate returns the fraction of documents without errors (0.0 to 1.0).
func (m *Metrics) SuccessRate() float64 {
	total := m.documentsTotal.Load()
	if total == 0 {
		return 0
	}
	return float64(m.documentsValid.Load()) / float64(total)
}

// RulesApplied returns the total number of successfully applied rules.
func (m *Metrics) RulesApplied() uint64 {
	return m.rulesApplied.Load()
}

// RulesFailed returns the total number of rejected rules.
func (m *Metrics) RulesFailed() uint64 {
	return m.rulesFailed.Load()
}

// AverageExportTime returns the average per-document export duration.
func (m *Metrics) AverageExportTime() time.Duration {
	total := m.documentsTotal.Load()
	if total == 0 {
		return 0
	}
	avgNs := m.exportTimeTotal.Load() / total
	return time.Duration(avgNs) //nolint:gosec // Safe: avgNs represents nanoseconds within int64 range
}

// MinExportTime returns the minimum document export duration.
func (m *Metrics) MinExportTime() time.Duration {
	minVal := m.exportTimeMin.Load()
	if minVal == ^uint64(0) {
		return 0
	}
	return time.Duration(minVal) //nolint:gosec // Safe: minVal represents nanoseconds within int64 range
}

// MaxExportTime returns the maximum document export duration.
func (m *Metrics) MaxExportTime() time.Duration {
	return time.Duration(m.exportTimeMax.Load()) //nolint:gosec // Safe: nanoseconds within int64 range
}

// CacheHits returns the total schema cache hits.
func (m *Metrics) CacheHits() uint64 {
	return m.cacheHits.Load()
}

// CacheMisses returns the total schema cache misses.
func (m *Metrics) CacheMisses() uint64 {
	return m.cacheMisses.Load()
}

// CacheHitRate returns the schema cache hit rate (0.0 to 1.0).
func (m *Metrics) CacheHitRate() float64 {
	hits := m.cacheHits.Load()
	misses := m.cacheMisses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// MemoHits returns the inline memo hits.
func (m *Metrics) MemoHits() uint64 {
	return m.memoHits.Load()
}

// MemoMisses returns the inline memo misses, i.e. actual inline exports.
func (m *Metrics) MemoMisses() uint64 {
	return m.memoMisses.Load()
}

// PoolAcquires returns the total pool acquire operations.
func (m *Metrics) PoolAcquires() uint64 {
	return m.poolAcquires.Load()
}

// PoolReleases returns the total pool release operations.
func (m *Metrics) PoolReleases() uint64 {
	return m.poolReleases.Load()
}

// PoolLeaks returns potential pool leaks (acquires - releases).
func (m *Metrics) PoolLeaks() int64 {
	return int64(m.poolAcquires.Load()) - int64(m.poolReleases.Load()) //nolint:gosec // Safe: counters won't overflow int64
}

// ErrorsTotal returns the total error diagnostics recorded.
func (m *Metrics) ErrorsTotal() uint64 {
	return m.errorsTotal.Load()
}

// WarningsTotal returns the total warning diagnostics recorded.
func (m *Metrics) WarningsTotal() uint64 {
	return m.warningsTotal.Load()
}

// InfosTotal returns the total informational diagnostics recorded.
func (m *Metrics) InfosTotal() uint64 {
	return m.infosTotal.Load()
}

// StageStats holds statistics for one export stage.
type StageStats struct {
	Name        string
	Invocations uint64
	TotalTime   time.Duration
	AvgTime     time.Duration
}

// StageStats returns statistics for a specific stage.
func (m *Metrics) StageStats(stageName string) (StageStats, bool) {
	v, ok := m.stageTiming.Load(stageName)
	if !ok {
		return StageStats{Name: stageName}, false
	}
	return buildStageStats(stageName, v.(*stageMetrics)), true
}

// AllStageStats returns statistics for all stages.
func (m *Metrics) AllStageStats() []StageStats {
	var stats []StageStats
	m.stageTiming.Range(func(key, value any) bool {
		stats = append(stats, buildStageStats(key.(string), value.(*stageMetrics)))
		return true
	})
	return stats
}

func buildStageStats(name string, sm *stageMetrics) StageStats {
	invocations := sm.invocations.Load()
	totalTime := sm.totalTime.Load()

	var avgTime time.Duration
	if invocations > 0 {
		avgTime = time.Duration(totalTime / invocations) //nolint:gosec // Safe: nanoseconds within int64 range
	}

	return StageStats{
		Name:        name,
		Invocations: invocations,
		TotalTime:   time.Duration(totalTime), //nolint:gosec // Safe: nanoseconds within int64 range
		AvgTime:     avgTime,
	}
}

// --- Export Methods ---

// Snapshot represents a point-in-time snapshot of all metrics.
type Snapshot struct {
	// Timestamp when the snapshot was taken
	Timestamp time.Time `json:"timestamp"`

	// Document metrics
	DocumentsTotal uint64  `json:"documents_total"`
	DocumentsValid uint64  `json:"documents_valid"`
	SuccessRate    float64 `json:"success_rate"`

	// Rule metrics
	RulesApplied uint64 `json:"rules_applied"`
	RulesFailed  uint64 `json:"rules_failed"`

	// Timing metrics (in nanoseconds for precision)
	AvgExportTimeNs uint64 `json:"avg_export_time_ns"`
	MinExportTimeNs uint64 `json:"min_export_time_ns"`
	MaxExportTimeNs uint64 `json:"max_export_time_ns"`

	// Cache metrics
	CacheHits    uint64  `json:"cache_hits"`
	CacheMisses  uint64  `json:"cache_misses"`
	CacheHitRate float64 `json:"cache_hit_rate"`

	// Inline memo metrics
	MemoHits   uint64 `json:"memo_hits"`
	MemoMisses uint64 `json:"memo_misses"`

	// Pool metrics
	PoolAcquires uint64 `json:"pool_acquires"`
	PoolReleases uint64 `json:"pool_releases"`
	PoolLeaks    int64  `json:"pool_leaks"`

	// Diagnostic metrics
	ErrorsTotal   uint64 `json:"errors_total"`
	WarningsTotal uint64 `json:"warnings_total"`
	InfosTotal    uint64 `json:"infos_total"`

	// Stage metrics
	Stages []StageStats `json:"stages,omitempty"`
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	total := m.documentsTotal.Load()
	cacheHits := m.cacheHits.Load()
	cacheMisses := m.cacheMisses.Load()

	var avgTime, successRate, cacheHitRate float64
	if total > 0 {
		avgTime = float64(m.exportTimeTotal.Load()) / float64(total)
		successRate = float64(m.documentsValid.Load()) / float64(total)
	}
	if cacheTotal := cacheHits + cacheMisses; cacheTotal > 0 {
		cacheHitRate = float64(cacheHits) / float64(cacheTotal)
	}

	minTime := m.exportTimeMin.Load()
	if minTime == ^uint64(0) {
		minTime = 0
	}

	return Snapshot{
		Timestamp:       time.Now(),
		DocumentsTotal:  total,
		DocumentsValid:  m.documentsValid.Load(),
		SuccessRate:     successRate,
		RulesApplied:    m.rulesApplied.Load(),
		RulesFailed:     m.rulesFailed.Load(),
		AvgExportTimeNs: uint64(avgTime),
		MinExportTimeNs: minTime,
		MaxExportTimeNs: m.exportTimeMax.Load(),
		CacheHits:       cacheHits,
		CacheMisses:     cacheMisses,
		CacheHitRate:    cacheHitRate,
		MemoHits:        m.memoHits.Load(),
		MemoMisses:      m.memoMisses.Load(),
		PoolAcquires:    m.poolAcquires.Load(),
		PoolReleases:    m.poolReleases.Load(),
		PoolLeaks:       m.PoolLeaks(),
		ErrorsTotal:     m.errorsTotal.Load(),
		WarningsTotal:   m.warningsTotal.Load(),
		InfosTotal:      m.infosTotal.Load(),
		Stages:          m.AllStageStats(),
	}
}

// Reset clears all metrics.
func (m *Metrics) Reset() {
	m.documentsTotal.Store(0)
	m.documentsValid.Store(0)
	m.rulesApplied.Store(0)
	m.rulesFailed.Store(0)
	m.exportTimeTotal.Store(0)
	m.exportTimeMin.Store(^uint64(0))
	m.exportTimeMax.Store(0)
	m.cacheHits.Store(0)
	m.cacheMisses.Store(0)
	m.memoHits.Store(0)
	m.memoMisses.Store(0)
	m.poolAcquires.Store(0)
	m.poolReleases.Store(0)
	m.errorsTotal.Store(0)
	m.warningsTotal.Store(0)
	m.infosTotal.Store(0)

	// Clear stage timing
	m.stageTiming.Range(func(key, _ any) bool {
		m.stageTiming.Delete(key)
		return true
	})
}
