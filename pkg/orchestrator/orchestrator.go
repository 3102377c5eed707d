package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/haloworks/fleetctl/pkg/lease"
	"github.com/haloworks/fleetctl/pkg/probe"
	"github.com/haloworks/fleetctl/pkg/registry"
)

// Leaser is the subset of *lease.Manager the stop protocol needs, so the
// shared-resource protection protocol can be exercised in tests against a
// fake without a live Redis instance.
type Leaser interface {
	Acquire(ctx context.Context, resourceID string, ttl time.Duration) (*lease.Lease, error)
	Release(ctx context.Context, l *lease.Lease) error
}

// Orchestrator runs the start and stop state machines. It holds no
// per-call state; every dependency is injected at construction.
type Orchestrator struct {
	store      *registry.Store
	instances  probe.InstanceProber
	nodePools  probe.NodePoolProber
	workloads  probe.WorkloadProber
	http       probe.HTTPProber
	leases     Leaser
	quickStat  QuickStatusFunc
	notify     NotifyFunc
	oplog      OplogWriter
	logger     *slog.Logger
	cfg        Config
}

// New constructs an Orchestrator. oplog may be nil, in which case operation
// log entries are written synchronously to store instead of asynchronously.
func New(store *registry.Store, instances probe.InstanceProber, nodePools probe.NodePoolProber, workloads probe.WorkloadProber, httpProber probe.HTTPProber, leases Leaser, quickStat QuickStatusFunc, notify NotifyFunc, oplog OplogWriter, logger *slog.Logger, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:     store,
		instances: instances,
		nodePools: nodePools,
		workloads: workloads,
		http:      httpProber,
		leases:    leases,
		quickStat: quickStat,
		notify:    notify,
		oplog:     oplog,
		logger:    logger,
		cfg:       cfg,
	}
}
