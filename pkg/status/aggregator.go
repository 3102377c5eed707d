// Package status implements the live status aggregator: given an app
// record, it runs the HTTP, instance, node-pool, and pod probes
// concurrently under a single shared deadline and composes a live view.
// Nothing in this package is ever memoized across calls.
package status

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/haloworks/fleetctl/pkg/probe"
	"github.com/haloworks/fleetctl/pkg/registry"
)

// HTTPStatus is the composite status's authoritative value: UP iff the
// HEAD probe returned exactly 200; transport failures are DOWN; anything
// else adapters could not classify is UNKNOWN.
type HTTPStatus string

const (
	HTTPUp      HTTPStatus = "UP"
	HTTPDown    HTTPStatus = "DOWN"
	HTTPUnknown HTTPStatus = "UNKNOWN"
)

// HTTPView is the HTTP probe outcome surfaced to clients.
type HTTPView struct {
	Status    HTTPStatus `json:"status"`
	Code      int        `json:"code,omitempty"`
	LatencyMS int64      `json:"latency_ms"`
}

// DBView is a single database's informational state, never promoting or
// demoting the composite status.
type DBView struct {
	State      string   `json:"state"`
	Host       string   `json:"host,omitempty"`
	Port       int      `json:"port,omitempty"`
	InstanceID string   `json:"instance_id,omitempty"`
	IsShared   bool     `json:"is_shared"`
	SharedWith []string `json:"shared_with,omitempty"`
}

// NodePoolHint is the UI-facing derived classification of a node pool's raw
// status.
type NodePoolHint string

const (
	HintReady   NodePoolHint = "ready"
	HintScaling NodePoolHint = "scaling"
	HintStopped NodePoolHint = "stopped"
)

// NodePoolView is a single node pool's composed status.
type NodePoolView struct {
	Name       string       `json:"name"`
	Status     string       `json:"status"`
	Desired    int32        `json:"desired"`
	Min        int32        `json:"min"`
	Max        int32        `json:"max"`
	Current    int32        `json:"current"`
	Hint       NodePoolHint `json:"hint"`
	IsShared   bool         `json:"is_shared"`
	SharedWith []string     `json:"shared_with,omitempty"`
}

// PodSummary is a single pod surfaced in one of PodsView's bucket lists.
type PodSummary struct {
	Name         string `json:"name"`
	Reason       string `json:"reason,omitempty"`
	Owner        string `json:"owner,omitempty"`
	Created      string `json:"created"`
	RestartCount int32  `json:"restart_count"`
}

// PodsView buckets the namespace's pods by coarse health.
type PodsView struct {
	Running       int          `json:"running"`
	Pending       int          `json:"pending"`
	CrashLoop     int          `json:"crashloop"`
	Total         int          `json:"total"`
	RunningList   []PodSummary `json:"running_list,omitempty"`
	PendingList   []PodSummary `json:"pending_list,omitempty"`
	CrashLoopList []PodSummary `json:"crashloop_list,omitempty"`
	Warning       string       `json:"warning,omitempty"`
}

// ComposedView is the live snapshot returned to clients.
type ComposedView struct {
	Name       string         `json:"name"`
	Hostnames  []string       `json:"hostnames"`
	Namespace  string         `json:"namespace"`
	HTTP       HTTPView       `json:"http"`
	Postgres   *DBView        `json:"postgres,omitempty"`
	Neo4j      *DBView        `json:"neo4j,omitempty"`
	NodeGroups []NodePoolView `json:"nodegroups,omitempty"`
	Pods       PodsView       `json:"pods"`
}

// Aggregator composes ComposedView snapshots. Construct one per process;
// it holds no per-call state.
type Aggregator struct {
	instances probe.InstanceProber
	nodePools probe.NodePoolProber
	workloads probe.WorkloadProber
	pods      probe.PodProber
	http      probe.HTTPProber
	deadline  time.Duration
	httpProbe time.Duration
}

// NewAggregator constructs an Aggregator. deadline bounds the whole call;
// httpTimeout bounds the HTTP leg specifically, since it is also used
// standalone by quick-status.
func NewAggregator(instances probe.InstanceProber, nodePools probe.NodePoolProber, workloads probe.WorkloadProber, pods probe.PodProber, httpProber probe.HTTPProber, deadline, httpTimeout time.Duration) *Aggregator {
	return &Aggregator{
		instances: instances,
		nodePools: nodePools,
		workloads: workloads,
		pods:      pods,
		http:      httpProber,
		deadline:  deadline,
		httpProbe: httpTimeout,
	}
}

// Compose runs all four probes concurrently against rec and returns a
// ComposedView. A probe that errors contributes an UNKNOWN/zero-value
// field rather than failing the call. When the outer deadline elapses
// first, Compose returns the partial view gathered so far with HTTP
// UNKNOWN if that probe had not finished; it never returns an error.
func (a *Aggregator) Compose(ctx context.Context, rec registry.ApplicationRecord) (ComposedView, error) {
	ctx, cancel := context.WithTimeout(ctx, a.deadline)
	defer cancel()

	view := ComposedView{
		Name:      rec.AppName,
		Hostnames: rec.Hostnames,
		Namespace: rec.Namespace,
	}

	// mu guards view: on a deadline elapse the partial result is read
	// while slow probe goroutines may still be writing their fields.
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		h := a.probeHTTP(ctx, rec)
		mu.Lock()
		view.HTTP = h
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		pg, neo := a.probeDatabases(ctx, rec)
		mu.Lock()
		view.Postgres, view.Neo4j = pg, neo
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		ng := a.probeNodePool(ctx, rec)
		mu.Lock()
		view.NodeGroups = ng
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		p := a.probePods(ctx, rec)
		mu.Lock()
		view.Pods = p
		mu.Unlock()
	}()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
		return view, nil
	case <-ctx.Done():
		// Partial result is preferred to an error: whatever goroutines
		// finished already wrote their fields; anything still in flight
		// leaves its zero value, which for HTTP defaults to HTTPUnknown
		// below.
		mu.Lock()
		snapshot := view
		mu.Unlock()
		if snapshot.HTTP.Status == "" {
			snapshot.HTTP.Status = HTTPUnknown
		}
		return snapshot, nil
	}
}

func (a *Aggregator) probeHTTP(ctx context.Context, rec registry.ApplicationRecord) HTTPView {
	if len(rec.Hostnames) == 0 {
		return HTTPView{Status: HTTPUnknown}
	}
	result := a.http.Head(ctx, rec.Hostnames[0], a.httpProbe)
	return classifyHTTP(result)
}

func classifyHTTP(result probe.HTTPResult) HTTPView {
	view := HTTPView{Code: result.Code, LatencyMS: result.Latency.Milliseconds()}
	switch {
	case result.Err == nil && result.Code == http200:
		view.Status = HTTPUp
	case result.Err == nil:
		view.Status = HTTPDown
	default:
		view.Status = classifyTransportError(result.Err)
	}
	return view
}

// classifyTransportError distinguishes a refused/timed-out connection
// (DOWN, the app simply isn't answering) from a genuinely unexpected
// adapter error (UNKNOWN). Context deadline/cancellation and the standard
// net errors that indicate "nothing is listening" are DOWN; anything else
// is UNKNOWN.
func classifyTransportError(err error) HTTPStatus {
	if err == nil {
		return HTTPUnknown
	}
	if isConnectionFailure(err) {
		return HTTPDown
	}
	return HTTPUnknown
}

const http200 = 200

// isConnectionFailure reports whether err looks like "nothing is
// listening" rather than an unexpected adapter bug: connection refused,
// DNS failure, or a deadline/timeout on the transport.
func isConnectionFailure(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func (a *Aggregator) probeDatabases(ctx context.Context, rec registry.ApplicationRecord) (*DBView, *DBView) {
	return a.probeDB(ctx, rec.Databases.Postgres, rec.SharedResources.Postgres),
		a.probeDB(ctx, rec.Databases.Neo4j, rec.SharedResources.Neo4j)
}

func (a *Aggregator) probeDB(ctx context.Context, ref *registry.DbRef, shared []registry.SharedResource) *DBView {
	if ref == nil {
		return nil
	}
	view := &DBView{State: "unknown", Host: ref.Host, Port: ref.Port, InstanceID: ref.InstanceID}
	for _, sr := range shared {
		if sr.Identifier == ref.InstanceID {
			view.IsShared = true
			view.SharedWith = sr.LinkedApps
			break
		}
	}
	if !ref.HasInstance() {
		return view
	}

	statuses, err := a.instances.Describe(ctx, []string{ref.InstanceID})
	if err != nil || len(statuses) == 0 {
		return view
	}
	view.State = instanceStateToDBState(statuses[0].State)
	return view
}

func instanceStateToDBState(s probe.InstanceState) string {
	switch s {
	case probe.InstanceRunning:
		return "running"
	case probe.InstanceStopped:
		return "stopped"
	case probe.InstancePending:
		return "starting"
	case probe.InstanceStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

func (a *Aggregator) probeNodePool(ctx context.Context, rec registry.ApplicationRecord) []NodePoolView {
	if rec.NodePool == nil {
		return nil
	}
	desc, err := a.nodePools.Describe(ctx, rec.NodePool.Name)
	if err != nil {
		return []NodePoolView{{Name: rec.NodePool.Name, Status: string(probe.NodePoolDegraded), Hint: HintStopped}}
	}

	view := NodePoolView{
		Name:    rec.NodePool.Name,
		Status:  string(desc.Status),
		Desired: desc.Desired,
		Min:     desc.Min,
		Max:     desc.Max,
		Current: desc.CurrentNodes,
		Hint:    nodePoolHint(desc),
	}
	for _, sr := range rec.SharedResources.NodePool {
		if sr.Identifier == rec.NodePool.Name {
			view.IsShared = true
			view.SharedWith = sr.LinkedApps
			break
		}
	}
	return []NodePoolView{view}
}

func nodePoolHint(desc probe.NodePoolDescription) NodePoolHint {
	switch desc.Status {
	case probe.NodePoolActive:
		if desc.CurrentNodes > 0 {
			return HintReady
		}
		return HintScaling
	case probe.NodePoolUpdating, probe.NodePoolCreating:
		return HintScaling
	default: // DEGRADED, DELETING, NOT_FOUND
		return HintStopped
	}
}

func (a *Aggregator) probePods(ctx context.Context, rec registry.ApplicationRecord) PodsView {
	pods, err := a.pods.ListPods(ctx, rec.Namespace)
	if err != nil {
		if probe.IsPermissionDenied(err) {
			return PodsView{Warning: "permission denied listing pods"}
		}
		return PodsView{Warning: err.Error()}
	}

	var view PodsView
	view.Total = len(pods)
	for _, p := range pods {
		summary := PodSummary{
			Name:         p.Name,
			Reason:       p.Reason,
			Owner:        p.Owner,
			Created:      p.CreatedAt.UTC().Format(time.RFC3339),
			RestartCount: p.RestartCount,
		}
		switch classifyPod(p) {
		case podBucketRunning:
			view.Running++
			view.RunningList = append(view.RunningList, summary)
		case podBucketPending:
			view.Pending++
			view.PendingList = append(view.PendingList, summary)
		case podBucketCrashLoop:
			view.CrashLoop++
			view.CrashLoopList = append(view.CrashLoopList, summary)
		}
	}
	return view
}

type podBucket int

const (
	podBucketOther podBucket = iota
	podBucketRunning
	podBucketPending
	podBucketCrashLoop
)

func classifyPod(p probe.Pod) podBucket {
	if p.Reason == "CrashLoopBackOff" || p.RestartCount >= crashLoopRestartThreshold {
		return podBucketCrashLoop
	}
	switch p.Phase {
	case "Running":
		if p.Ready {
			return podBucketRunning
		}
		return podBucketPending
	case "Pending":
		return podBucketPending
	default:
		return podBucketOther
	}
}

const crashLoopRestartThreshold = 5
