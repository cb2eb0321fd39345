package ha

import (
	"context"
	"log/slog"
	"sync"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"
)

// Task is a singleton background loop. It must return when ctx is done.
type Task struct {
	Name string
	Run  func(ctx context.Context)
}

// LeaderElector runs singleton tasks on exactly one replica. With election
// disabled, or without a Kubernetes client, the local replica is always the
// leader.
type LeaderElector struct {
	config   *HAConfig
	client   kubernetes.Interface
	identity string
	logger   *slog.Logger

	mu       sync.RWMutex
	isLeader bool
	tasks    []Task

	// running is held while the task set runs, so a set from a previous
	// term never overlaps the next one.
	running sync.Mutex
}

// NewLeaderElector creates a LeaderElector. identity must be unique per
// replica.
func NewLeaderElector(cfg *HAConfig, client kubernetes.Interface, identity string, logger *slog.Logger) *LeaderElector {
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaderElector{
		config:   cfg,
		client:   client,
		identity: identity,
		logger:   logger,
	}
}

// Add registers a task to run while this replica leads. Tasks must be added
// before Run.
func (le *LeaderElector) Add(name string, run func(ctx context.Context)) {
	le.tasks = append(le.tasks, Task{Name: name, Run: run})
}

// IsLeader reports whether this replica currently runs the singleton tasks.
func (le *LeaderElector) IsLeader() bool {
	le.mu.RLock()
	defer le.mu.RUnlock()
	return le.isLeader
}

func (le *LeaderElector) setLeader(v bool) {
	le.mu.Lock()
	le.isLeader = v
	le.mu.Unlock()
}

// Run blocks until ctx is cancelled. Tasks are started when leadership is
// acquired and their context is cancelled when it is lost, after which the
// replica contends for the lease again.
func (le *LeaderElector) Run(ctx context.Context) {
	if !le.config.LeaderElectionEnabled || le.client == nil {
		le.logger.Info("leader election disabled, running singleton tasks locally",
			"tasks", len(le.tasks))
		le.setLeader(true)
		le.runTasks(ctx)
		le.setLeader(false)
		return
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      le.config.LeaseName,
			Namespace: le.config.LeaseNamespace,
		},
		Client: le.client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: le.identity,
		},
	}

	le.logger.Info("starting leader election",
		"identity", le.identity,
		"lease", le.config.LeaseName,
		"namespace", le.config.LeaseNamespace,
		"leaseDuration", le.config.LeaseDuration,
	)

	for ctx.Err() == nil {
		leaderelection.RunOrDie(ctx, leaderelection.LeaderElectionConfig{
			Lock:            lock,
			LeaseDuration:   le.config.LeaseDuration,
			RenewDeadline:   le.config.RenewDeadline,
			RetryPeriod:     le.config.RetryPeriod,
			ReleaseOnCancel: true,
			Name:            le.config.LeaseName,
			Callbacks: leaderelection.LeaderCallbacks{
				OnStartedLeading: func(leadCtx context.Context) {
					le.setLeader(true)
					le.logger.Info("elected as leader", "identity", le.identity)
					le.running.Lock()
					defer le.running.Unlock()
					le.runTasks(leadCtx)
				},
				OnStoppedLeading: func() {
					le.setLeader(false)
					le.logger.Info("stopped leading", "identity", le.identity)
				},
				OnNewLeader: func(identity string) {
					if identity != le.identity {
						le.logger.Info("new leader elected", "leader", identity)
					}
				},
			},
		})
	}
}

// runTasks starts every task and waits for all of them to return.
func (le *LeaderElector) runTasks(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range le.tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			le.logger.Info("singleton task started", "task", t.Name)
			t.Run(ctx)
			le.logger.Info("singleton task stopped", "task", t.Name)
		}(t)
	}
	wg.Wait()
}
