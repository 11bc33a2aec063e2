package queue

import (
	"math"
	"sync"
	"time"

	"github.com/phrazzld/meetscribe/internal/domain"
)

// priorityMemoryMultiplier scales the per-job memory request. The result is
// capped at MaxMemoryPerJob, so multipliers above 1.0 have no effect.
var priorityMemoryMultiplier = map[domain.Priority]float64{
	domain.PriorityUrgent: 2.0,
	domain.PriorityHigh:   1.5,
	domain.PriorityNormal: 1.0,
	domain.PriorityLow:    0.7,
	domain.PriorityIdle:   0.5,
}

// Limits are the ceilings enforced by a ResourceLedger.
type Limits struct {
	MaxConcurrentJobs int
	MaxMemoryPerJob   int
	MaxTotalMemory    int
	MaxAPICalls       int
	AllocationTTL     time.Duration
}

// Usage is a snapshot of the ledger's counters.
type Usage struct {
	MemoryMB        int `json:"memory_mb"`
	ProcessingSlots int `json:"processing_slots"`
	APICalls        int `json:"api_calls"`
}

// ResourceLedger tracks memory, API quota and processing slots held by
// processing jobs. It is safe for concurrent use.
type ResourceLedger struct {
	mu          sync.Mutex
	limits      Limits
	usage       Usage
	allocations map[string]domain.ResourceAllocation
}

// NewResourceLedger creates an empty ledger with the given limits.
func NewResourceLedger(limits Limits) *ResourceLedger {
	return &ResourceLedger{
		limits:      limits,
		allocations: make(map[string]domain.ResourceAllocation),
	}
}

// RequiredMemory returns min(maxPerJob * multiplier(priority), maxPerJob).
func RequiredMemory(priority domain.Priority, maxPerJob int) int {
	multiplier, ok := priorityMemoryMultiplier[priority]
	if !ok {
		multiplier = 1.0
	}
	return int(math.Min(float64(maxPerJob)*multiplier, float64(maxPerJob)))
}

// CanAllocateMore reports whether any counter still has headroom.
func (l *ResourceLedger) CanAllocateMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usage.ProcessingSlots < l.limits.MaxConcurrentJobs &&
		l.usage.MemoryMB < l.limits.MaxTotalMemory &&
		l.usage.APICalls < l.limits.MaxAPICalls
}

// Allocate reserves resources for jobID. It returns false, changing nothing,
// if any ceiling would be exceeded or jobID already holds an allocation.
func (l *ResourceLedger) Allocate(jobID string, priority domain.Priority, apiQuota int, now time.Time) (domain.ResourceAllocation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.allocations[jobID]; exists {
		return domain.ResourceAllocation{}, false
	}

	memory := RequiredMemory(priority, l.limits.MaxMemoryPerJob)
	if l.usage.MemoryMB+memory > l.limits.MaxTotalMemory {
		return domain.ResourceAllocation{}, false
	}
	if l.usage.ProcessingSlots+1 > l.limits.MaxConcurrentJobs {
		return domain.ResourceAllocation{}, false
	}
	if l.usage.APICalls+apiQuota > l.limits.MaxAPICalls {
		return domain.ResourceAllocation{}, false
	}

	alloc := domain.ResourceAllocation{
		Resources: domain.Resources{
			MemoryMB:        memory,
			APIQuota:        apiQuota,
			ProcessingSlots: 1,
		},
		AllocatedAt: now,
		ExpiresAt:   now.Add(l.limits.AllocationTTL),
	}
	l.usage.MemoryMB += memory
	l.usage.ProcessingSlots++
	l.usage.APICalls += apiQuota
	l.allocations[jobID] = alloc
	return alloc, true
}

// Release returns jobID's allocation to the pool. It reports whether an
// allocation existed.
func (l *ResourceLedger) Release(jobID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	alloc, ok := l.allocations[jobID]
	if !ok {
		return false
	}
	delete(l.allocations, jobID)
	l.usage.MemoryMB -= alloc.MemoryMB
	l.usage.ProcessingSlots -= alloc.ProcessingSlots
	l.usage.APICalls -= alloc.APIQuota
	return true
}

// Allocation returns the allocation held by jobID, if any.
func (l *ResourceLedger) Allocation(jobID string) (domain.ResourceAllocation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	alloc, ok := l.allocations[jobID]
	return alloc, ok
}

// Usage returns a snapshot of the counters.
func (l *ResourceLedger) Usage() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usage
}
