package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haloworks/fleetctl/pkg/probe"
	"github.com/haloworks/fleetctl/pkg/registry"
)

type fakeInstances struct {
	statuses map[string]probe.InstanceStatus
	err      error
}

func (f *fakeInstances) Describe(ctx context.Context, ids []string) ([]probe.InstanceStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]probe.InstanceStatus, 0, len(ids))
	for _, id := range ids {
		if st, ok := f.statuses[id]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}
func (f *fakeInstances) Start(ctx context.Context, ids []string) error { return nil }
func (f *fakeInstances) Stop(ctx context.Context, ids []string) error  { return nil }
func (f *fakeInstances) ScanTagged(ctx context.Context, a, c, s string) ([]probe.TaggedInstance, error) {
	return nil, nil
}

type fakeNodePools struct {
	desc probe.NodePoolDescription
	err  error
}

func (f *fakeNodePools) Describe(ctx context.Context, pool string) (probe.NodePoolDescription, error) {
	return f.desc, f.err
}
func (f *fakeNodePools) UpdateScaling(ctx context.Context, pool string, desired, min, max int32) error {
	return nil
}

type fakeWorkloads struct{}

func (fakeWorkloads) ListDeployments(ctx context.Context, ns string) ([]probe.Workload, error) {
	return nil, nil
}
func (fakeWorkloads) ListStatefulSets(ctx context.Context, ns string) ([]probe.Workload, error) {
	return nil, nil
}
func (fakeWorkloads) ScaleDeployment(ctx context.Context, ns, name string, replicas int32) error {
	return nil
}
func (fakeWorkloads) ScaleStatefulSet(ctx context.Context, ns, name string, replicas int32) error {
	return nil
}

type fakePods struct {
	pods []probe.Pod
	err  error
}

func (f *fakePods) ListPods(ctx context.Context, ns string) ([]probe.Pod, error) {
	return f.pods, f.err
}

type fakeHTTP struct {
	result probe.HTTPResult
}

func (f *fakeHTTP) Head(ctx context.Context, host string, timeout time.Duration) probe.HTTPResult {
	return f.result
}

func TestClassifyHTTP(t *testing.T) {
	cases := []struct {
		name   string
		result probe.HTTPResult
		want   HTTPStatus
	}{
		{"200 is up", probe.HTTPResult{Code: 200}, HTTPUp},
		{"503 is down", probe.HTTPResult{Code: 503}, HTTPDown},
		{"connection refused is down", probe.HTTPResult{Err: &testNetErr{}}, HTTPDown},
		{"unexpected error is unknown", probe.HTTPResult{Err: errors.New("boom")}, HTTPUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyHTTP(tc.result).Status; got != tc.want {
				t.Errorf("classifyHTTP() status = %q, want %q", got, tc.want)
			}
		})
	}
}

type testNetErr struct{}

func (*testNetErr) Error() string   { return "connection refused" }
func (*testNetErr) Timeout() bool   { return false }
func (*testNetErr) Temporary() bool { return false }

func TestNodePoolHint(t *testing.T) {
	cases := []struct {
		name string
		desc probe.NodePoolDescription
		want NodePoolHint
	}{
		{"active with nodes is ready", probe.NodePoolDescription{Status: probe.NodePoolActive, CurrentNodes: 2}, HintReady},
		{"active with zero nodes is scaling", probe.NodePoolDescription{Status: probe.NodePoolActive, CurrentNodes: 0}, HintScaling},
		{"updating is scaling", probe.NodePoolDescription{Status: probe.NodePoolUpdating}, HintScaling},
		{"creating is scaling", probe.NodePoolDescription{Status: probe.NodePoolCreating}, HintScaling},
		{"degraded is stopped", probe.NodePoolDescription{Status: probe.NodePoolDegraded}, HintStopped},
		{"deleting is stopped", probe.NodePoolDescription{Status: probe.NodePoolDeleting}, HintStopped},
		{"not found is stopped", probe.NodePoolDescription{Status: probe.NodePoolNotFound}, HintStopped},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := nodePoolHint(tc.desc); got != tc.want {
				t.Errorf("nodePoolHint() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClassifyPod(t *testing.T) {
	cases := []struct {
		name string
		pod  probe.Pod
		want podBucket
	}{
		{"running and ready", probe.Pod{Phase: "Running", Ready: true}, podBucketRunning},
		{"running but not ready", probe.Pod{Phase: "Running", Ready: false}, podBucketPending},
		{"pending", probe.Pod{Phase: "Pending"}, podBucketPending},
		{"crashloop reason", probe.Pod{Phase: "Running", Reason: "CrashLoopBackOff"}, podBucketCrashLoop},
		{"high restart count", probe.Pod{Phase: "Running", Ready: true, RestartCount: 9}, podBucketCrashLoop},
		{"succeeded is other", probe.Pod{Phase: "Succeeded"}, podBucketOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyPod(tc.pod); got != tc.want {
				t.Errorf("classifyPod() = %v, want %v", got, tc.want)
			}
		})
	}
}

// Status purity: Compose recomputes every field from
// the probes on every call; it never reuses a prior result.
func TestCompose_RecomputesEveryCall(t *testing.T) {
	instances := &fakeInstances{statuses: map[string]probe.InstanceStatus{
		"i-pg": {ID: "i-pg", State: probe.InstanceRunning},
	}}
	nodePools := &fakeNodePools{desc: probe.NodePoolDescription{Status: probe.NodePoolActive, Desired: 1, CurrentNodes: 1}}
	pods := &fakePods{pods: []probe.Pod{{Name: "p1", Phase: "Running", Ready: true}}}
	httpProber := &fakeHTTP{result: probe.HTTPResult{Code: 200}}

	agg := NewAggregator(instances, nodePools, fakeWorkloads{}, pods, httpProber, 2*time.Second, time.Second)

	rec := registry.ApplicationRecord{
		AppName:   "shop.example.com",
		Hostnames: []string{"shop.example.com"},
		NodePool:  &registry.NodePoolRef{Name: "np-x"},
		Databases: registry.Databases{Postgres: &registry.DbRef{InstanceID: "i-pg"}},
	}

	view1, err := agg.Compose(context.Background(), rec)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	// Mutate the fakes' underlying state between calls; Compose must reflect
	// it, proving no caching occurred.
	httpProber.result = probe.HTTPResult{Code: 503}
	instances.statuses["i-pg"] = probe.InstanceStatus{ID: "i-pg", State: probe.InstanceStopped}

	view2, err := agg.Compose(context.Background(), rec)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}

	if view1.HTTP.Status != HTTPUp {
		t.Errorf("first call HTTP status = %q, want UP", view1.HTTP.Status)
	}
	if view2.HTTP.Status != HTTPDown {
		t.Errorf("second call HTTP status = %q, want DOWN (no caching)", view2.HTTP.Status)
	}
	if view1.Postgres.State != "running" || view2.Postgres.State != "stopped" {
		t.Errorf("postgres state did not reflect underlying change: %q -> %q", view1.Postgres.State, view2.Postgres.State)
	}
}

// HTTP-only rule: component state never promotes or demotes the composite
// HTTP status, even when every other probe is unhealthy.
func TestCompose_HTTPStatusNeverDemotedByOtherProbes(t *testing.T) {
	instances := &fakeInstances{err: errors.New("permission denied")}
	nodePools := &fakeNodePools{err: errors.New("not found")}
	pods := &fakePods{err: errors.New("permission denied")}
	httpProber := &fakeHTTP{result: probe.HTTPResult{Code: 200}}

	agg := NewAggregator(instances, nodePools, fakeWorkloads{}, pods, httpProber, 2*time.Second, time.Second)
	rec := registry.ApplicationRecord{
		AppName:   "shop.example.com",
		Hostnames: []string{"shop.example.com"},
		NodePool:  &registry.NodePoolRef{Name: "np-x"},
		Databases: registry.Databases{Postgres: &registry.DbRef{InstanceID: "i-pg"}},
	}

	view, err := agg.Compose(context.Background(), rec)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if view.HTTP.Status != HTTPUp {
		t.Errorf("HTTP status = %q, want UP despite every other probe failing", view.HTTP.Status)
	}
	if view.Pods.Warning == "" {
		t.Error("expected a pods warning surfaced, not a failed call")
	}
}
