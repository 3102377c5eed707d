package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/haloworks/fleetctl/pkg/registry"
)

// Stop runs the stop state machine for appName: scale
// workloads and the node pool down without waiting, then run the
// shared-resource-protected DB stop protocol for each configured
// database, and log the outcome.
func (o *Orchestrator) Stop(ctx context.Context, appName string, source registry.OperationLogSource) (Result, error) {
	startedAt := nowUnix()

	rec, err := o.store.GetApplication(ctx, appName)
	if err != nil {
		return Result{}, fmt.Errorf("loading application %q: %w", appName, err)
	}

	var warnings []string
	steps := map[string]any{}

	wlSteps := o.scaleWorkloadsDown(ctx, *rec)
	steps["workloads"] = wlSteps
	for _, s := range wlSteps {
		if s.Warning != "" {
			warnings = append(warnings, s.Warning)
		}
	}

	if rec.NodePool != nil {
		npStep := o.scaleNodePoolDown(ctx, *rec)
		steps["node_pool"] = npStep
		if npStep.Warning != "" {
			warnings = append(warnings, npStep.Warning)
		}
	}

	dbSteps := o.stopDatabases(ctx, *rec)
	steps["databases"] = dbSteps
	for _, s := range dbSteps {
		if s.Reason != "" {
			warnings = append(warnings, fmt.Sprintf("%s %s: %s", s.Kind, s.InstanceID, s.Reason))
		}
	}

	result := Result{
		Success:  true,
		Warnings: warnings,
		Steps:    steps,
	}

	entry := registry.OperationLogEntry{
		App:        appName,
		Action:     "stop",
		Source:     source,
		StartedAt:  startedAt,
		FinishedAt: nowUnix(),
		Result:     "success",
		Warnings:   warnings,
		Steps:      steps,
	}
	o.logOperation(ctx, entry)

	return result, nil
}

func (o *Orchestrator) scaleWorkloadsDown(ctx context.Context, rec registry.ApplicationRecord) []workloadStep {
	var steps []workloadStep
	var mu sync.Mutex
	var wg sync.WaitGroup

	deployments, err := o.workloads.ListDeployments(ctx, rec.Namespace)
	if err != nil {
		return []workloadStep{{Kind: "deployment", Warning: fmt.Sprintf("listing deployments: %v", err)}}
	}
	statefulsets, err := o.workloads.ListStatefulSets(ctx, rec.Namespace)
	if err != nil {
		return []workloadStep{{Kind: "statefulset", Warning: fmt.Sprintf("listing statefulsets: %v", err)}}
	}

	for _, d := range deployments {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			step := workloadStep{Kind: "deployment", Name: name, Target: 0}
			if err := o.workloads.ScaleDeployment(ctx, rec.Namespace, name, 0); err != nil {
				step.Warning = fmt.Sprintf("scaling deployment %s to 0: %v", name, err)
			}
			mu.Lock()
			steps = append(steps, step)
			mu.Unlock()
		}(d.Name)
	}
	for _, s := range statefulsets {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			step := workloadStep{Kind: "statefulset", Name: name, Target: 0}
			if err := o.workloads.ScaleStatefulSet(ctx, rec.Namespace, name, 0); err != nil {
				step.Warning = fmt.Sprintf("scaling statefulset %s to 0: %v", name, err)
			}
			mu.Lock()
			steps = append(steps, step)
			mu.Unlock()
		}(s.Name)
	}
	wg.Wait()
	return steps
}

func (o *Orchestrator) scaleNodePoolDown(ctx context.Context, rec registry.ApplicationRecord) nodePoolStep {
	pool := rec.NodePool
	if err := o.nodePools.UpdateScaling(ctx, pool.Name, 0, 0, pool.DefaultMax); err != nil {
		return nodePoolStep{Status: "unknown", Warning: fmt.Sprintf("node pool scale-down failed: %v", err)}
	}
	// Stop does not wait for the pool to drain.
	return nodePoolStep{Status: "scaling_down"}
}

// dbStopStep reports a single database's stop outcome, including a
// non-empty Reason whenever the DB was intentionally left running.
type dbStopStep struct {
	Kind       string `json:"kind"`
	InstanceID string `json:"instance_id,omitempty"`
	Stopped    bool   `json:"stopped"`
	Reason     string `json:"reason,omitempty"`
}

func (o *Orchestrator) stopDatabases(ctx context.Context, rec registry.ApplicationRecord) []dbStopStep {
	refs := dbRefs(rec)
	steps := make([]dbStopStep, 0, len(refs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for kind, ref := range refs {
		wg.Add(1)
		go func(kind string, ref *registry.DbRef) {
			defer wg.Done()
			step := o.stopOneDatabase(ctx, kind, ref, rec, sharedResourcesFor(rec, kind))
			mu.Lock()
			steps = append(steps, step)
			mu.Unlock()
		}(kind, ref)
	}
	wg.Wait()
	return steps
}

func sharedResourcesFor(rec registry.ApplicationRecord, kind string) []registry.SharedResource {
	switch kind {
	case "postgres":
		return rec.SharedResources.Postgres
	case "neo4j":
		return rec.SharedResources.Neo4j
	default:
		return nil
	}
}

// stopOneDatabase applies the shared-resource protection protocol to a
// single database.
func (o *Orchestrator) stopOneDatabase(ctx context.Context, kind string, ref *registry.DbRef, rec registry.ApplicationRecord, shared []registry.SharedResource) dbStopStep {
	step := dbStopStep{Kind: kind, InstanceID: ref.InstanceID}

	if !ref.HasInstance() {
		step.Reason = "no instance_id, lifecycle action refused"
		return step
	}

	sr, isShared := findSharedResource(shared, ref.InstanceID)
	if !isShared {
		if err := o.instances.Stop(ctx, []string{ref.InstanceID}); err != nil {
			step.Reason = fmt.Sprintf("stop failed: %v", err)
			return step
		}
		step.Stopped = true
		return step
	}

	return o.stopSharedDatabase(ctx, rec.AppName, step, sr)
}

// stopSharedDatabase runs the lease-protected decision: acquire the lease,
// check every co-tenant's live status, and only stop if every one of them
// is DOWN. UNKNOWN is treated as in-use.
func (o *Orchestrator) stopSharedDatabase(ctx context.Context, appName string, step dbStopStep, sr registry.SharedResource) dbStopStep {
	resourceID := step.InstanceID
	if resourceID == "" {
		step.Reason = "shared DB has no instance_id"
		return step
	}

	l, err := o.leases.Acquire(ctx, resourceID, o.cfg.LeaseTTL)
	if err != nil {
		step.Reason = "lock contention"
		return step
	}
	defer func() {
		// The lease is released on every path out of the decision, even
		// when the caller's context has already been cancelled.
		if releaseErr := o.leases.Release(context.WithoutCancel(ctx), l); releaseErr != nil {
			o.logger.Warn("releasing shared-db lease", "resource", resourceID, "error", releaseErr)
		}
	}()

	coTenants := otherApps(sr.LinkedApps, appName)
	statuses := o.checkCoTenants(ctx, coTenants)

	var active []string
	var unknown []string
	for app, st := range statuses {
		switch st {
		case QuickUp:
			active = append(active, app)
		case QuickUnknown:
			unknown = append(unknown, app)
		}
	}

	if len(active) > 0 {
		step.Reason = fmt.Sprintf("postgres %s shared with active apps: %v", resourceID, active)
		if step.Kind == "neo4j" {
			step.Reason = fmt.Sprintf("neo4j %s shared with active apps: %v", resourceID, active)
		}
		return step
	}
	if len(unknown) > 0 {
		step.Reason = fmt.Sprintf("status unknown for %v", unknown)
		return step
	}

	if err := o.instances.Stop(ctx, []string{resourceID}); err != nil {
		step.Reason = fmt.Sprintf("stop failed: %v", err)
		return step
	}
	step.Stopped = true
	return step
}

func (o *Orchestrator) checkCoTenants(ctx context.Context, apps []string) map[string]QuickStatus {
	results := make(map[string]QuickStatus, len(apps))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, app := range apps {
		wg.Add(1)
		go func(app string) {
			defer wg.Done()
			status, err := o.quickStat(ctx, app)
			if err != nil {
				status = QuickUnknown
			}
			mu.Lock()
			results[app] = status
			mu.Unlock()
		}(app)
	}
	wg.Wait()
	return results
}

func findSharedResource(shared []registry.SharedResource, identifier string) (registry.SharedResource, bool) {
	for _, sr := range shared {
		if sr.Identifier == identifier {
			return sr, true
		}
	}
	return registry.SharedResource{}, false
}

func otherApps(linked []string, self string) []string {
	var out []string
	for _, app := range linked {
		if app != self {
			out = append(out, app)
		}
	}
	return out
}

// DbStart starts a single database by kind ("postgres" or "neo4j"),
// bypassing the lease protocol entirely since starting a shared DB is
// always safe.
func (o *Orchestrator) DbStart(ctx context.Context, appName, kind string) (Result, error) {
	rec, err := o.store.GetApplication(ctx, appName)
	if err != nil {
		return Result{}, fmt.Errorf("loading application %q: %w", appName, err)
	}

	ref := dbRefs(*rec)[kind]
	if ref == nil {
		return Result{Success: false, Warnings: []string{fmt.Sprintf("app %s has no %s configured", appName, kind)}}, nil
	}

	step := o.startOneDatabase(ctx, kind, ref)
	result := Result{
		Success: step.Warning == "",
		Steps:   map[string]any{"database": step},
	}
	if step.Warning != "" {
		result.Warnings = []string{step.Warning}
	}
	return result, nil
}

// DbStop runs the shared-resource stop protocol directly against a single
// database, returning whether it was stopped and, if not, why.
func (o *Orchestrator) DbStop(ctx context.Context, appName, kind string) (bool, string, error) {
	rec, err := o.store.GetApplication(ctx, appName)
	if err != nil {
		return false, "", fmt.Errorf("loading application %q: %w", appName, err)
	}

	ref := dbRefs(*rec)[kind]
	if ref == nil {
		return false, fmt.Sprintf("app %s has no %s configured", appName, kind), nil
	}

	step := o.stopOneDatabase(ctx, kind, ref, *rec, sharedResourcesFor(*rec, kind))
	return step.Stopped, step.Reason, nil
}
