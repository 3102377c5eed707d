package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/haloworks/fleetctl/pkg/probe"
	"github.com/haloworks/fleetctl/pkg/registry"
)

func testOrchestratorFull(instances *fakeInstances, nodePools *fakeNodePools, workloads *fakeWorkloads, httpProber *fakeHTTP) *Orchestrator {
	return &Orchestrator{
		instances: instances,
		nodePools: nodePools,
		workloads: workloads,
		http:      httpProber,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg: Config{
			DBStartPollTimeout:   200 * time.Millisecond,
			DBStartPollInterval:  10 * time.Millisecond,
			NodePoolScaleTimeout: 200 * time.Millisecond,
			NodePoolPollInterval: 10 * time.Millisecond,
			HTTPVerifyTimeout:    time.Second,
		},
	}
}

// Idempotent start: a DB already running produces no
// mutating Start call.
func TestStartOneDatabase_AlreadyRunning_NoMutation(t *testing.T) {
	instances := newFakeInstances()
	instances.states["i-p"] = probe.InstanceRunning
	o := testOrchestratorFull(instances, nil, nil, nil)

	step := o.startOneDatabase(context.Background(), "postgres", &registry.DbRef{InstanceID: "i-p"})

	if step.State != string(probe.InstanceRunning) {
		t.Errorf("state = %q, want running", step.State)
	}
	if step.Warning != "" {
		t.Errorf("unexpected warning: %s", step.Warning)
	}
}

// Opaque DB refuses to start.
func TestStartOneDatabase_NoInstanceID_Refuses(t *testing.T) {
	o := testOrchestratorFull(newFakeInstances(), nil, nil, nil)

	step := o.startOneDatabase(context.Background(), "postgres", &registry.DbRef{Host: "db.internal"})

	if step.Warning == "" {
		t.Error("expected a warning refusing the opaque DB")
	}
}

// Stopped DB is started and polled until it reports running.
func TestStartOneDatabase_StoppedThenRunning(t *testing.T) {
	instances := newFakeInstances()
	instances.states["i-p"] = probe.InstanceStopped
	o := testOrchestratorFull(instances, nil, nil, nil)

	step := o.startOneDatabase(context.Background(), "postgres", &registry.DbRef{InstanceID: "i-p"})

	if step.State != string(probe.InstanceRunning) {
		t.Errorf("state = %q, want running after poll converges", step.State)
	}
	if step.Warning != "" {
		t.Errorf("unexpected warning: %s", step.Warning)
	}
}

// Node pool already at defaults is idempotent: UpdateScaling is not
// called and convergence succeeds immediately.
func TestScaleNodePoolUp_AlreadyConverged(t *testing.T) {
	nodePools := &fakeNodePools{desc: probe.NodePoolDescription{Status: probe.NodePoolActive, Desired: 1, Min: 1, Max: 2, CurrentNodes: 1}}
	o := testOrchestratorFull(newFakeInstances(), nodePools, nil, nil)

	rec := registry.ApplicationRecord{NodePool: &registry.NodePoolRef{Name: "np-x", DefaultDesired: 1, DefaultMin: 1, DefaultMax: 2}}
	step := o.scaleNodePoolUp(context.Background(), rec)

	if step.Warning != "" {
		t.Errorf("unexpected warning: %s", step.Warning)
	}
	if len(nodePools.updates) != 0 {
		t.Error("already-converged pool should not call UpdateScaling")
	}
}

func TestScaleNodePoolUp_ScalesAndConverges(t *testing.T) {
	nodePools := &fakeNodePools{desc: probe.NodePoolDescription{Status: probe.NodePoolActive, Desired: 0, Min: 0, Max: 2, CurrentNodes: 0}}
	o := testOrchestratorFull(newFakeInstances(), nodePools, nil, nil)

	rec := registry.ApplicationRecord{NodePool: &registry.NodePoolRef{Name: "np-x", DefaultDesired: 1, DefaultMin: 1, DefaultMax: 2}}
	step := o.scaleNodePoolUp(context.Background(), rec)

	if step.Warning != "" {
		t.Errorf("unexpected warning: %s", step.Warning)
	}
	if len(nodePools.updates) != 1 {
		t.Fatalf("expected exactly one UpdateScaling call, got %d", len(nodePools.updates))
	}
	if nodePools.updates[0].Desired != 1 {
		t.Errorf("target desired = %d, want 1", nodePools.updates[0].Desired)
	}
}

func TestVerifyHTTP_NonFatalOn503(t *testing.T) {
	httpProber := &fakeHTTP{result: probe.HTTPResult{Code: 503}}
	o := testOrchestratorFull(newFakeInstances(), nil, nil, httpProber)

	step := o.verifyHTTP(context.Background(), registry.ApplicationRecord{Hostnames: []string{"shop.example.com"}})

	if step.Code != 503 {
		t.Errorf("code = %d, want 503", step.Code)
	}
	if step.Warning == "" {
		t.Error("a non-200 HTTP verify should surface a warning")
	}
}

func TestVerifyHTTP_NoHostnames(t *testing.T) {
	o := testOrchestratorFull(newFakeInstances(), nil, nil, &fakeHTTP{})
	step := o.verifyHTTP(context.Background(), registry.ApplicationRecord{})
	if step.Warning == "" {
		t.Error("expected a warning when no hostnames are configured")
	}
}

// Dry-run: a start plan against a fully stopped app describes every
// action without mutating anything.
func TestPlanStart_DescribesActionsWithoutMutating(t *testing.T) {
	instances := newFakeInstances()
	instances.states["i-p"] = probe.InstanceStopped
	nodePools := &fakeNodePools{desc: probe.NodePoolDescription{Status: probe.NodePoolActive, Desired: 0, Min: 0, Max: 2, CurrentNodes: 0}}
	workloads := newFakeWorkloads()
	workloads.deployments = []probe.Workload{{Name: "d1", Replicas: 0}}

	o := testOrchestratorFull(instances, nodePools, workloads, nil)
	rec := registry.ApplicationRecord{
		Namespace: "ns-x",
		Databases: registry.Databases{Postgres: &registry.DbRef{InstanceID: "i-p"}},
		NodePool:  &registry.NodePoolRef{Name: "np-x", DefaultDesired: 1, DefaultMin: 1, DefaultMax: 2},
	}

	plan, err := o.planStart(context.Background(), rec)
	if err != nil {
		t.Fatalf("planStart() error = %v", err)
	}
	if !plan.DryRun {
		t.Error("plan.DryRun should be true")
	}
	if len(plan.Actions) != 3 {
		t.Fatalf("expected 3 actions (ec2, nodegroup, deployment), got %d: %+v", len(plan.Actions), plan.Actions)
	}
	if instances.states["i-p"] != probe.InstanceStopped {
		t.Error("dry-run must never mutate instance state")
	}
	if len(nodePools.updates) != 0 {
		t.Error("dry-run must never call UpdateScaling")
	}
	if len(workloads.scaled) != 0 {
		t.Error("dry-run must never call ScaleDeployment")
	}
}
