package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/haloworks/fleetctl/pkg/lease"
	"github.com/haloworks/fleetctl/pkg/registry"
)

func testOrchestrator(instances *fakeInstances, leases Leaser, quickStat QuickStatusFunc) *Orchestrator {
	return &Orchestrator{
		instances: instances,
		leases:    leases,
		quickStat: quickStat,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg:       Config{LeaseTTL: 60 * time.Second},
	}
}

// Shared DB with one co-tenant UP: Stop must not be called and the lease
// must be released.
func TestStopSharedDatabase_CoTenantUp_SkipsStop(t *testing.T) {
	instances := newFakeInstances()
	instances.states["i-1"] = "running"
	leases := &fakeLeaser{}
	quick := fakeQuickStatus(map[string]QuickStatus{"b": QuickUp})
	o := testOrchestrator(instances, leases, quick)

	sr := registry.SharedResource{Identifier: "i-1", LinkedApps: []string{"a", "b"}}
	step := o.stopSharedDatabase(context.Background(), "a", dbStopStep{Kind: "postgres", InstanceID: "i-1"}, sr)

	if step.Stopped {
		t.Error("shared DB should not be stopped while a co-tenant is UP")
	}
	if len(instances.stopCalls) != 0 {
		t.Errorf("Stop should never be called, got calls: %v", instances.stopCalls)
	}
	if step.Reason == "" {
		t.Error("expected a non-empty skip reason")
	}
	if len(leases.released) != 1 {
		t.Errorf("expected lease to be released exactly once, got %d", len(leases.released))
	}
}

// Shared DB with every co-tenant DOWN: Stop is invoked exactly once.
func TestStopSharedDatabase_CoTenantDown_Stops(t *testing.T) {
	instances := newFakeInstances()
	instances.states["i-1"] = "running"
	leases := &fakeLeaser{}
	quick := fakeQuickStatus(map[string]QuickStatus{"b": QuickDown})
	o := testOrchestrator(instances, leases, quick)

	sr := registry.SharedResource{Identifier: "i-1", LinkedApps: []string{"a", "b"}}
	step := o.stopSharedDatabase(context.Background(), "a", dbStopStep{Kind: "postgres", InstanceID: "i-1"}, sr)

	if !step.Stopped {
		t.Errorf("expected shared DB to be stopped, step: %+v", step)
	}
	if len(instances.stopCalls) != 1 || instances.stopCalls[0] != "i-1" {
		t.Errorf("expected exactly one Stop(i-1) call, got %v", instances.stopCalls)
	}
}

// Shared DB, co-tenant UNKNOWN (quick-status errors/times out): fail
// safe, do not stop.
func TestStopSharedDatabase_CoTenantUnknown_SkipsStop(t *testing.T) {
	instances := newFakeInstances()
	instances.states["i-1"] = "running"
	leases := &fakeLeaser{}
	quick := fakeQuickStatus(map[string]QuickStatus{}) // "b" absent -> error -> UNKNOWN
	o := testOrchestrator(instances, leases, quick)

	sr := registry.SharedResource{Identifier: "i-1", LinkedApps: []string{"a", "b"}}
	step := o.stopSharedDatabase(context.Background(), "a", dbStopStep{Kind: "postgres", InstanceID: "i-1"}, sr)

	if step.Stopped {
		t.Error("shared DB should not be stopped when co-tenant status is unknown")
	}
	if len(instances.stopCalls) != 0 {
		t.Errorf("Stop should never be called, got calls: %v", instances.stopCalls)
	}
}

// Lock contention: a lease that cannot be acquired must skip the stop
// with a "lock contention" reason and never call Stop.
func TestStopSharedDatabase_LockContention_Skips(t *testing.T) {
	instances := newFakeInstances()
	instances.states["i-1"] = "running"
	leases := &fakeLeaser{acquireErr: lease.ErrNotAcquired}
	quick := fakeQuickStatus(map[string]QuickStatus{"b": QuickDown})
	o := testOrchestrator(instances, leases, quick)

	sr := registry.SharedResource{Identifier: "i-1", LinkedApps: []string{"a", "b"}}
	step := o.stopSharedDatabase(context.Background(), "a", dbStopStep{Kind: "postgres", InstanceID: "i-1"}, sr)

	if step.Stopped {
		t.Error("shared DB should not be stopped on lock contention")
	}
	if step.Reason != "lock contention" {
		t.Errorf("reason = %q, want %q", step.Reason, "lock contention")
	}
	if len(instances.stopCalls) != 0 {
		t.Errorf("Stop should never be called, got calls: %v", instances.stopCalls)
	}
	if len(leases.released) != 0 {
		t.Error("a lease that was never acquired must never be released")
	}
}

// Lease ownership: a Release that fails with ErrNotOwner from the fake
// does not panic and does not change the stop decision.
func TestStopSharedDatabase_ReleaseNotOwner_DoesNotPanic(t *testing.T) {
	instances := newFakeInstances()
	instances.states["i-1"] = "running"
	leases := &fakeLeaser{releaseErr: lease.ErrNotOwner}
	quick := fakeQuickStatus(map[string]QuickStatus{"b": QuickDown})
	o := testOrchestrator(instances, leases, quick)

	sr := registry.SharedResource{Identifier: "i-1", LinkedApps: []string{"a", "b"}}
	step := o.stopSharedDatabase(context.Background(), "a", dbStopStep{Kind: "postgres", InstanceID: "i-1"}, sr)

	// Release failing does not change the stop outcome: the DB was still
	// correctly decided stoppable before the release attempt.
	if !step.Stopped {
		t.Errorf("expected stop to succeed regardless of release outcome, step: %+v", step)
	}
}

// Opaque DB (no instance_id) must refuse any lifecycle action.
func TestStopOneDatabase_NoInstanceID_Refuses(t *testing.T) {
	instances := newFakeInstances()
	o := testOrchestrator(instances, &fakeLeaser{}, fakeQuickStatus(nil))

	ref := &registry.DbRef{Host: "db.internal"}
	step := o.stopOneDatabase(context.Background(), "postgres", ref, registry.ApplicationRecord{AppName: "a"}, nil)

	if step.Stopped {
		t.Error("a DB with no instance_id must never be stopped")
	}
	if len(instances.stopCalls) != 0 {
		t.Error("Stop must never be called for an opaque DB ref")
	}
}

// A non-shared DB stops directly without touching the lease manager.
func TestStopOneDatabase_NotShared_StopsDirectly(t *testing.T) {
	instances := newFakeInstances()
	instances.states["i-solo"] = "running"
	leases := &fakeLeaser{}
	o := testOrchestrator(instances, leases, fakeQuickStatus(nil))

	ref := &registry.DbRef{InstanceID: "i-solo"}
	step := o.stopOneDatabase(context.Background(), "postgres", ref, registry.ApplicationRecord{AppName: "a"}, nil)

	if !step.Stopped {
		t.Errorf("expected a non-shared DB to stop directly, step: %+v", step)
	}
	if len(leases.released) != 0 {
		t.Error("a non-shared DB stop must never touch the lease manager")
	}
}
