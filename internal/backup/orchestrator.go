package backup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"custodia/internal/logging"

	"golang.org/x/sync/semaphore"
)

// BackupOrchestrator coordinates multi-component backup executions. It
// enforces the concurrency ceiling, mutual exclusion per job ID, the
// verification gate before a backup is marked verified, and the append-only
// execution history.
type BackupOrchestrator struct {
	config       *OrchestratorConfig
	retention    *RetentionConfig
	services     map[ComponentType]ComponentService
	validator    *BackupValidator
	retentionMgr *RetentionManager
	monitor      Monitor
	logger       *logging.Logger

	jobSlots *semaphore.Weighted
	running  sync.WaitGroup

	mu         sync.Mutex
	activeJobs map[string]string
	executions map[string]*BackupResult
	history    []*BackupResult
	stopped    bool
}

// NewBackupOrchestrator creates an orchestrator over the given component
// services. Services may be nil for components no job will reference.
func NewBackupOrchestrator(config *OrchestratorConfig, retention *RetentionConfig, services []ComponentService, validator *BackupValidator, retentionMgr *RetentionManager, monitor Monitor, logger *logging.Logger) *BackupOrchestrator {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if monitor == nil {
		monitor = NewNoopMonitor()
	}

	serviceMap := make(map[ComponentType]ComponentService, len(services))
	for _, service := range services {
		if service != nil {
			serviceMap[service.Component()] = service
		}
	}

	maxJobs := config.MaxConcurrentJobs
	if maxJobs <= 0 {
		maxJobs = 1
	}

	return &BackupOrchestrator{
		config:       config,
		retention:    retention,
		services:     serviceMap,
		validator:    validator,
		retentionMgr: retentionMgr,
		monitor:      monitor,
		logger:       logger,
		jobSlots:     semaphore.NewWeighted(int64(maxJobs)),
		activeJobs:   make(map[string]string),
		executions:   make(map[string]*BackupResult),
	}
}

// ScheduleBackup validates and executes one backup job, blocking until the
// execution reaches a terminal status. A job ID with an execution already in
// flight is rejected with a conflict error before any work starts.
func (bo *BackupOrchestrator) ScheduleBackup(ctx context.Context, job *BackupJob) (*BackupResult, error) {
	if err := job.Validate(); err != nil {
		return nil, NewValidationError("backup job rejected", err)
	}

	bo.mu.Lock()
	if bo.stopped {
		bo.mu.Unlock()
		return nil, NewConflictError("orchestrator is stopped", nil)
	}
	if activeExecution, active := bo.activeJobs[job.ID]; active {
		bo.mu.Unlock()
		return nil, NewConflictError(
			fmt.Sprintf("backup job %s is already active", job.ID), nil).
			WithContext("execution_id", activeExecution)
	}

	executionID := GenerateExecutionID(job.ID)
	result := &BackupResult{
		JobID:            job.ID,
		ExecutionID:      executionID,
		StartTime:        time.Now().UTC(),
		Status:           BackupStatusPending,
		ComponentSuccess: make(map[ComponentType]bool),
	}
	bo.activeJobs[job.ID] = executionID
	bo.executions[executionID] = result
	bo.running.Add(1)
	bo.mu.Unlock()

	defer func() {
		bo.mu.Lock()
		delete(bo.activeJobs, job.ID)
		bo.history = append(bo.history, result)
		bo.mu.Unlock()
		bo.running.Done()
	}()

	if err := bo.jobSlots.Acquire(ctx, 1); err != nil {
		bo.finalize(result, BackupStatusFailed, "cancelled while waiting for a job slot")
		return copyResult(result), NewDependencyError("cancelled while waiting for a job slot", err)
	}
	defer bo.jobSlots.Release(1)

	bo.execute(ctx, job, result)

	bo.monitor.TrackBackupMetrics(BackupMetrics{
		JobID:             job.ID,
		ExecutionID:       executionID,
		Tier:              job.Tier,
		Status:            result.Status,
		Duration:          result.Duration(),
		TotalSize:         result.TotalSize,
		ComponentCount:    len(job.Components),
		FailedComponents:  failedComponents(result),
		ComplianceChecked: result.ComplianceVerified,
	})

	return copyResult(result), nil
}

// execute runs every component of the job, then gates the outcome through
// integrity and compliance verification.
func (bo *BackupOrchestrator) execute(ctx context.Context, job *BackupJob, result *BackupResult) {
	bo.setStatus(result, BackupStatusInProgress)

	opts := BackupOptions{
		ExecutionID:        result.ExecutionID,
		Tier:               job.Tier,
		Kind:               kindForTier(job.Tier),
		RetentionDays:      retentionDays(job, bo.retention),
		EncryptionEnabled:  job.EncryptionEnabled,
		CompressionEnabled: job.CompressionEnabled,
		ComplianceRequired: job.ComplianceRequired,
	}

	var manifests []*Manifest
	var firstError error

	for _, component := range job.Components {
		if bo.isStopped() {
			bo.finalize(result, BackupStatusFailed, "orchestrator stopped during execution")
			return
		}

		service, registered := bo.services[component]
		if !registered {
			result.ComponentSuccess[component] = false
			if firstError == nil {
				firstError = NewDependencyError(
					fmt.Sprintf("no service registered for component %s", component), nil)
			}
			continue
		}

		componentBackup, err := service.CreateBackup(ctx, opts)
		if err != nil {
			bo.logger.LogComponentBackup(result.ExecutionID, string(component), 0, 0, false, err)
			result.ComponentSuccess[component] = false
			if firstError == nil {
				firstError = err
			}
			continue
		}

		result.ComponentSuccess[component] = componentBackup.Success
		result.ArtifactPaths = append(result.ArtifactPaths, componentBackup.ArtifactPaths...)
		result.TotalSize += componentBackup.TotalSize
		manifests = append(manifests, componentBackup.Manifests...)
	}

	if !result.AllComponentsSucceeded() {
		message := "one or more components failed"
		if firstError != nil {
			message = firstError.Error()
		}
		bo.finalize(result, BackupStatusFailed, message)
		return
	}

	result.AggregateChecksum = bo.validator.AggregateChecksum(manifests)
	bo.setStatus(result, BackupStatusCompleted)

	if err := bo.validator.VerifyIntegrity(ctx, manifests); err != nil {
		bo.finalize(result, BackupStatusCorrupted, err.Error())
		return
	}

	if job.ComplianceRequired {
		if err := bo.validator.VerifyCompliance(ctx, manifests); err != nil {
			bo.finalize(result, BackupStatusFailed, err.Error())
			return
		}
		result.ComplianceVerified = true
	}

	bo.finalize(result, BackupStatusVerified, "")
}

// GetStatus returns a snapshot of one execution by ID
func (bo *BackupOrchestrator) GetStatus(executionID string) (*BackupResult, error) {
	bo.mu.Lock()
	defer bo.mu.Unlock()

	result, found := bo.executions[executionID]
	if !found {
		return nil, NewValidationError(fmt.Sprintf("unknown execution %s", executionID), nil)
	}
	return copyResult(result), nil
}

// StatusSummary aggregates the orchestrator's execution history. It is the
// answer to a status query that names no particular execution.
type StatusSummary struct {
	ActiveExecutions int                  `json:"active_executions"`
	TotalExecutions  int                  `json:"total_executions"`
	StatusCounts     map[BackupStatus]int `json:"status_counts"`
	LastExecution    *BackupResult        `json:"last_execution,omitempty"`
}

// Summary returns an aggregate view over every execution this orchestrator
// has seen, including those still in flight.
func (bo *BackupOrchestrator) Summary() *StatusSummary {
	bo.mu.Lock()
	defer bo.mu.Unlock()

	summary := &StatusSummary{
		ActiveExecutions: len(bo.activeJobs),
		StatusCounts:     make(map[BackupStatus]int),
	}
	for _, result := range bo.executions {
		summary.TotalExecutions++
		summary.StatusCounts[result.Status]++
	}
	if n := len(bo.history); n > 0 {
		summary.LastExecution = copyResult(bo.history[n-1])
	}
	return summary
}

// ListHistory returns snapshots of all finished executions, oldest first
func (bo *BackupOrchestrator) ListHistory() []*BackupResult {
	bo.mu.Lock()
	defer bo.mu.Unlock()

	history := make([]*BackupResult, 0, len(bo.history))
	for _, result := range bo.history {
		history = append(history, copyResult(result))
	}
	return history
}

// CleanupExpired runs one retention cleanup pass
func (bo *BackupOrchestrator) CleanupExpired(ctx context.Context, dryRun bool) (*CleanupReport, error) {
	return bo.retentionMgr.CleanupExpired(ctx, time.Now().UTC(), dryRun)
}

// Stop refuses new jobs and waits for in-flight executions up to the
// configured grace period. Executions still running after the grace period
// are abandoned and logged; their goroutines finish on their own schedule.
func (bo *BackupOrchestrator) Stop(ctx context.Context) error {
	bo.mu.Lock()
	if bo.stopped {
		bo.mu.Unlock()
		return nil
	}
	bo.stopped = true
	active := len(bo.activeJobs)
	bo.mu.Unlock()

	if active == 0 {
		bo.logger.Info("Orchestrator stopped with no active executions")
		return nil
	}

	bo.logger.Infof("Orchestrator stopping, waiting for %d active executions", active)

	done := make(chan struct{})
	go func() {
		bo.running.Wait()
		close(done)
	}()

	grace := bo.config.StopGracePeriod
	if grace <= 0 {
		grace = 30 * time.Second
	}

	select {
	case <-done:
		bo.logger.Info("Orchestrator stopped cleanly")
		return nil
	case <-time.After(grace):
	case <-ctx.Done():
	}

	bo.mu.Lock()
	abandoned := make([]string, 0, len(bo.activeJobs))
	for jobID, executionID := range bo.activeJobs {
		abandoned = append(abandoned, fmt.Sprintf("%s (%s)", jobID, executionID))
	}
	bo.mu.Unlock()

	bo.logger.Errorf("Orchestrator stop grace period elapsed, abandoning executions: %v", abandoned)
	return NewDependencyError(
		fmt.Sprintf("%d executions still running after stop grace period", len(abandoned)), nil)
}

func (bo *BackupOrchestrator) isStopped() bool {
	bo.mu.Lock()
	defer bo.mu.Unlock()
	return bo.stopped
}

func (bo *BackupOrchestrator) setStatus(result *BackupResult, status BackupStatus) {
	bo.mu.Lock()
	result.Status = status
	bo.mu.Unlock()
}

func (bo *BackupOrchestrator) finalize(result *BackupResult, status BackupStatus, message string) {
	bo.mu.Lock()
	result.Status = status
	result.ErrorMessage = message
	result.EndTime = time.Now().UTC()
	bo.mu.Unlock()
}

// kindForTier maps a tier to its dump strategy. Hourly runs stay cheap with
// incremental dumps; every other tier takes a full capture.
func kindForTier(tier BackupTier) BackupKind {
	if tier == TierHourly {
		return BackupKindIncremental
	}
	return BackupKindFull
}

func retentionDays(job *BackupJob, retention *RetentionConfig) int {
	if job.RetentionDays > 0 {
		return job.RetentionDays
	}
	if retention != nil {
		return retention.TierDays[job.Tier]
	}
	return 30
}

func failedComponents(result *BackupResult) int {
	failed := 0
	for _, ok := range result.ComponentSuccess {
		if !ok {
			failed++
		}
	}
	return failed
}

func copyResult(result *BackupResult) *BackupResult {
	snapshot := *result
	snapshot.ComponentSuccess = make(map[ComponentType]bool, len(result.ComponentSuccess))
	for component, ok := range result.ComponentSuccess {
		snapshot.ComponentSuccess[component] = ok
	}
	snapshot.ArtifactPaths = append([]string(nil), result.ArtifactPaths...)
	return &snapshot
}
