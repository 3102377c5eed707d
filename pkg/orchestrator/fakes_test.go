package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/haloworks/fleetctl/pkg/lease"
	"github.com/haloworks/fleetctl/pkg/probe"
)

// fakeInstances is a minimal probe.InstanceProber double. States are keyed
// by instance ID; Start/Stop flip the recorded state so polling loops in
// start.go/stop.go can observe convergence without a real EC2 account.
type fakeInstances struct {
	states      map[string]probe.InstanceState
	startErr    error
	stopErr     error
	describeErr error
	stopCalls   []string
}

func newFakeInstances() *fakeInstances {
	return &fakeInstances{states: map[string]probe.InstanceState{}}
}

func (f *fakeInstances) Describe(ctx context.Context, ids []string) ([]probe.InstanceStatus, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	out := make([]probe.InstanceStatus, 0, len(ids))
	for _, id := range ids {
		st, ok := f.states[id]
		if !ok {
			st = probe.InstanceUnknown
		}
		out = append(out, probe.InstanceStatus{ID: id, State: st})
	}
	return out, nil
}

func (f *fakeInstances) Start(ctx context.Context, ids []string) error {
	if f.startErr != nil {
		return f.startErr
	}
	for _, id := range ids {
		f.states[id] = probe.InstanceRunning
	}
	return nil
}

func (f *fakeInstances) Stop(ctx context.Context, ids []string) error {
	f.stopCalls = append(f.stopCalls, ids...)
	if f.stopErr != nil {
		return f.stopErr
	}
	for _, id := range ids {
		f.states[id] = probe.InstanceStopped
	}
	return nil
}

func (f *fakeInstances) ScanTagged(ctx context.Context, appNameTag, componentTag, sharedTag string) ([]probe.TaggedInstance, error) {
	return nil, nil
}

// fakeNodePools is a minimal probe.NodePoolProber double.
type fakeNodePools struct {
	desc        probe.NodePoolDescription
	describeErr error
	updateErr   error
	updates     []probe.NodePoolDescription
}

func (f *fakeNodePools) Describe(ctx context.Context, pool string) (probe.NodePoolDescription, error) {
	if f.describeErr != nil {
		return probe.NodePoolDescription{}, f.describeErr
	}
	return f.desc, nil
}

func (f *fakeNodePools) UpdateScaling(ctx context.Context, pool string, desired, min, max int32) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.desc.Desired, f.desc.Min, f.desc.Max = desired, min, max
	f.desc.Status = probe.NodePoolActive
	f.desc.CurrentNodes = desired
	f.updates = append(f.updates, f.desc)
	return nil
}

// fakeWorkloads is a minimal probe.WorkloadProber double.
type fakeWorkloads struct {
	deployments  []probe.Workload
	statefulsets []probe.Workload
	scaled       map[string]int32
}

func newFakeWorkloads() *fakeWorkloads {
	return &fakeWorkloads{scaled: map[string]int32{}}
}

func (f *fakeWorkloads) ListDeployments(ctx context.Context, namespace string) ([]probe.Workload, error) {
	return f.deployments, nil
}

func (f *fakeWorkloads) ListStatefulSets(ctx context.Context, namespace string) ([]probe.Workload, error) {
	return f.statefulsets, nil
}

func (f *fakeWorkloads) ScaleDeployment(ctx context.Context, namespace, name string, replicas int32) error {
	f.scaled["deployment/"+name] = replicas
	return nil
}

func (f *fakeWorkloads) ScaleStatefulSet(ctx context.Context, namespace, name string, replicas int32) error {
	f.scaled["statefulset/"+name] = replicas
	return nil
}

// fakeHTTP is a minimal probe.HTTPProber double.
type fakeHTTP struct {
	result probe.HTTPResult
}

func (f *fakeHTTP) Head(ctx context.Context, host string, timeout time.Duration) probe.HTTPResult {
	return f.result
}

// fakeLeaser is a minimal Leaser double that grants or refuses leases
// deterministically, without needing a live Redis instance.
type fakeLeaser struct {
	acquireErr   error
	released     []string
	releaseErr   error
	releaseOwner string
}

func (f *fakeLeaser) Acquire(ctx context.Context, resourceID string, ttl time.Duration) (*lease.Lease, error) {
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	return &lease.Lease{Key: lease.Key(resourceID), OwnerID: "owner-1", AcquiredAt: time.Now()}, nil
}

func (f *fakeLeaser) Release(ctx context.Context, l *lease.Lease) error {
	f.released = append(f.released, l.Key)
	f.releaseOwner = l.OwnerID
	if f.releaseErr != nil {
		return f.releaseErr
	}
	return nil
}

// fakeQuickStatus returns a canned status per app name, erroring for names
// not present in the map (mirroring a timed-out quick-status probe).
func fakeQuickStatus(statuses map[string]QuickStatus) QuickStatusFunc {
	return func(ctx context.Context, appName string) (QuickStatus, error) {
		st, ok := statuses[appName]
		if !ok {
			return "", errors.New("no quick status configured for app")
		}
		return st, nil
	}
}
