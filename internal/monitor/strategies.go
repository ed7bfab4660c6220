package monitor

import (
	"context"
	"fmt"
	"time"

	"nathanbeddoewebdev/vpsd/internal/hypervisor"
	"nathanbeddoewebdev/vpsd/internal/taskstore"
	"nathanbeddoewebdev/vpsd/internal/usagestore"
)

// Default polling budgets. Each is roughly the longest the operation is
// expected to take on a healthy hypervisor.
var (
	BackupCreatePolicy  = Policy{MaxAttempts: 60, Delay: 10 * time.Second}
	BackupRestorePolicy = Policy{MaxAttempts: 120, Delay: 15 * time.Second}
	BackupDeletePolicy  = Policy{MaxAttempts: 30, Delay: 10 * time.Second}
	ISODownloadPolicy   = Policy{MaxAttempts: 120, Delay: 10 * time.Second}
	RebuildPolicy       = Policy{MaxAttempts: 120, Delay: 15 * time.Second}
	UsageSyncPolicy     = Policy{MaxAttempts: 1, BestEffort: true}
)

// TaskStrategy polls a hypervisor task and applies the default terminal
// handling.
type TaskStrategy struct {
	kind   string
	policy Policy
	client hypervisor.TaskClient
}

// NewTaskStrategy returns a strategy for kind that polls client.
func NewTaskStrategy(kind string, policy Policy, client hypervisor.TaskClient) *TaskStrategy {
	return &TaskStrategy{kind: kind, policy: policy, client: client}
}

func (s *TaskStrategy) Kind() string   { return s.kind }
func (s *TaskStrategy) Policy() Policy { return s.policy }

// WithPolicy returns a copy of s using p.
func (s *TaskStrategy) WithPolicy(p Policy) *TaskStrategy {
	c := *s
	c.policy = p
	return &c
}

// Observe fetches the task status and maps it.
func (s *TaskStrategy) Observe(ctx context.Context, job Job) (Observation, error) {
	st, err := s.client.GetTaskStatus(ctx, job.ExternalTaskID)
	if err != nil {
		return Observation{}, err
	}
	return MapTaskStatus(st), nil
}

// BackupCreate monitors a backup job. The reported size is stored on the
// record.
func BackupCreate(client hypervisor.TaskClient) *TaskStrategy {
	return NewTaskStrategy(string(taskstore.KindBackupCreate), BackupCreatePolicy, client)
}

// BackupRestore monitors a restore from backup.
func BackupRestore(client hypervisor.TaskClient) *TaskStrategy {
	return NewTaskStrategy(string(taskstore.KindBackupRestore), BackupRestorePolicy, client)
}

// ISODownload monitors an ISO download. Progress is parsed from the task
// log while it runs.
func ISODownload(client hypervisor.TaskClient) *TaskStrategy {
	return NewTaskStrategy(string(taskstore.KindISODownload), ISODownloadPolicy, client)
}

// DeleteStrategy verifies a backup deletion. The record is removed once
// the hypervisor confirms it.
type DeleteStrategy struct {
	*TaskStrategy
}

// BackupDelete monitors the deletion of a backup.
func BackupDelete(client hypervisor.TaskClient) *DeleteStrategy {
	return &DeleteStrategy{NewTaskStrategy(string(taskstore.KindBackupDelete), BackupDeletePolicy, client)}
}

// Settle deletes the record on success and fails it otherwise.
func (s *DeleteStrategy) Settle(_ context.Context, rec *taskstore.Record, _ Job, obs Observation, now time.Time) (Settlement, error) {
	if obs.State == StateSucceeded {
		return Settlement{Delete: true}, nil
	}
	rec.MarkFailed(now, obs.Error)
	return Settlement{}, nil
}

// UsageSync samples resource usage counters. It is best effort: a failed
// sample is dropped and the next periodic run tries again.
type UsageSync struct {
	client  hypervisor.UsageClient
	samples usagestore.Repository
	now     func() time.Time
}

// NewUsageSync returns a usage sync strategy storing samples in samples.
func NewUsageSync(client hypervisor.UsageClient, samples usagestore.Repository) *UsageSync {
	return &UsageSync{client: client, samples: samples, now: time.Now}
}

func (s *UsageSync) Kind() string   { return KindUsageSync }
func (s *UsageSync) Policy() Policy { return UsageSyncPolicy }

// Observe reads and stores one usage sample for the job's resource.
func (s *UsageSync) Observe(ctx context.Context, job Job) (Observation, error) {
	u, err := s.client.GetUsage(ctx, job.ResourceID)
	if err != nil {
		return Observation{}, fmt.Errorf("usage for %s: %w", job.ResourceID, err)
	}
	if u == nil {
		return Observation{State: StateFailed, Error: "no usage reported"}, nil
	}
	if u.ResourceID == "" {
		u.ResourceID = job.ResourceID
	}
	if u.SampledAt.IsZero() {
		u.SampledAt = s.now().UTC()
	}
	if err := s.samples.Save(ctx, u); err != nil {
		return Observation{}, err
	}
	return Observation{State: StateSucceeded}, nil
}

// UsageJob returns a usage sync job for resourceID.
func UsageJob(resourceID string) Job {
	return NewJob(KindUsageSync, 0, resourceID, "")
}
