package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haloworks/fleetctl/internal/telemetry"
	"github.com/haloworks/fleetctl/pkg/probe"
	"github.com/haloworks/fleetctl/pkg/registry"
)

// Start runs the start state machine for appName. When
// dryRun is true it performs only read-only probes and returns a Plan
// without mutating anything; otherwise it sequences DB start, node-pool
// scale-up, and workload scale-up, then verifies with one HTTP HEAD, and
// always appends an operation log entry.
func (o *Orchestrator) Start(ctx context.Context, appName string, dryRun bool, source registry.OperationLogSource) (any, error) {
	startedAt := nowUnix()

	rec, err := o.store.GetApplication(ctx, appName)
	if err != nil {
		return nil, fmt.Errorf("loading application %q: %w", appName, err)
	}

	if dryRun {
		plan, err := o.planStart(ctx, *rec)
		if err != nil {
			return nil, err
		}
		return plan, nil
	}

	result := o.runStart(ctx, *rec)

	entry := registry.OperationLogEntry{
		App:        appName,
		Action:     "start",
		Source:     source,
		StartedAt:  startedAt,
		FinishedAt: nowUnix(),
		Warnings:   result.Warnings,
		Steps:      result.Steps,
	}
	if result.Success {
		entry.Result = "success"
	} else {
		entry.Result = "partial"
	}
	o.logOperation(ctx, entry)

	return result, nil
}

// planStart computes the dry-run plan: what start would do, without
// issuing any mutating probe call.
func (o *Orchestrator) planStart(ctx context.Context, rec registry.ApplicationRecord) (Plan, error) {
	var actions []PlanAction

	for _, ref := range dbRefs(rec) {
		if ref == nil || !ref.HasInstance() {
			continue
		}
		statuses, err := o.instances.Describe(ctx, []string{ref.InstanceID})
		current := "unknown"
		if err == nil && len(statuses) > 0 {
			current = string(statuses[0].State)
		}
		if current == string(probe.InstanceRunning) {
			continue
		}
		actions = append(actions, PlanAction{
			Type:         "start_ec2",
			InstanceID:   ref.InstanceID,
			CurrentState: current,
			TargetState:  string(probe.InstanceRunning),
		})
	}

	if rec.NodePool != nil {
		desc, err := o.nodePools.Describe(ctx, rec.NodePool.Name)
		if err == nil && (desc.Desired != rec.NodePool.DefaultDesired || desc.Min != rec.NodePool.DefaultMin || desc.Max != rec.NodePool.DefaultMax) {
			actions = append(actions, PlanAction{
				Type:           "scale_nodegroup",
				Nodegroup:      rec.NodePool.Name,
				CurrentDesired: desc.Desired,
				TargetDesired:  rec.NodePool.DefaultDesired,
			})
		}
	}

	deployments, err := o.workloads.ListDeployments(ctx, rec.Namespace)
	if err == nil {
		for _, d := range deployments {
			if d.Replicas == 0 {
				actions = append(actions, PlanAction{
					Type:    "scale_deployment",
					Name:    d.Name,
					Current: d.Replicas,
					Target:  defaultReplicas(d.Replicas),
				})
			}
		}
	}
	statefulsets, err := o.workloads.ListStatefulSets(ctx, rec.Namespace)
	if err == nil {
		for _, s := range statefulsets {
			if s.Replicas == 0 {
				actions = append(actions, PlanAction{
					Type:    "scale_statefulset",
					Name:    s.Name,
					Current: s.Replicas,
					Target:  defaultReplicas(s.Replicas),
				})
			}
		}
	}

	return Plan{DryRun: true, Actions: actions}, nil
}

// runStart executes the real start machine. DB starts fan out in
// parallel; node-pool scale and workload scale run as sequential steps
// after it.
func (o *Orchestrator) runStart(ctx context.Context, rec registry.ApplicationRecord) Result {
	var warnings []string
	steps := map[string]any{}

	dbSteps := o.startDatabases(ctx, rec)
	steps["databases"] = dbSteps
	for _, s := range dbSteps {
		if s.Warning != "" {
			warnings = append(warnings, s.Warning)
		}
	}

	if rec.NodePool != nil {
		npStep := o.scaleNodePoolUp(ctx, rec)
		steps["node_pool"] = npStep
		if npStep.Warning != "" {
			warnings = append(warnings, npStep.Warning)
		}
	}

	wlSteps := o.scaleWorkloadsUp(ctx, rec)
	steps["workloads"] = wlSteps
	for _, s := range wlSteps {
		if s.Warning != "" {
			warnings = append(warnings, s.Warning)
		}
	}

	httpStep := o.verifyHTTP(ctx, rec)
	steps["http_verify"] = httpStep
	if httpStep.Warning != "" {
		warnings = append(warnings, httpStep.Warning)
	}

	return Result{
		Success:  len(warnings) == 0,
		Warnings: warnings,
		Steps:    steps,
	}
}

type dbStartStep struct {
	Kind    string `json:"kind"`
	Warning string `json:"warning,omitempty"`
	State   string `json:"state"`
}

func (o *Orchestrator) startDatabases(ctx context.Context, rec registry.ApplicationRecord) []dbStartStep {
	refs := dbRefs(rec)
	steps := make([]dbStartStep, 0, len(refs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for kind, ref := range refs {
		if ref == nil {
			continue
		}
		wg.Add(1)
		go func(kind string, ref *registry.DbRef) {
			defer wg.Done()
			step := o.startOneDatabase(ctx, kind, ref)
			mu.Lock()
			steps = append(steps, step)
			mu.Unlock()
		}(kind, ref)
	}
	wg.Wait()
	return steps
}

func (o *Orchestrator) startOneDatabase(ctx context.Context, kind string, ref *registry.DbRef) dbStartStep {
	step := dbStartStep{Kind: kind}
	if !ref.HasInstance() {
		step.State = "unknown"
		step.Warning = fmt.Sprintf("%s has no instance_id, lifecycle action refused", kind)
		return step
	}

	statuses, err := o.instances.Describe(ctx, []string{ref.InstanceID})
	if err != nil {
		step.State = "unknown"
		step.Warning = fmt.Sprintf("%s describe failed: %v", kind, err)
		return step
	}
	if len(statuses) > 0 && statuses[0].State == probe.InstanceRunning {
		step.State = string(probe.InstanceRunning)
		return step
	}

	if err := o.instances.Start(ctx, []string{ref.InstanceID}); err != nil {
		step.State = "unknown"
		step.Warning = fmt.Sprintf("%s start failed: %v", kind, err)
		return step
	}

	deadline := time.Now().Add(o.cfg.DBStartPollTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			step.State = "unknown"
			step.Warning = fmt.Sprintf("%s start poll cancelled", kind)
			return step
		case <-time.After(o.cfg.DBStartPollInterval):
		}
		statuses, err := o.instances.Describe(ctx, []string{ref.InstanceID})
		if err != nil {
			continue
		}
		if len(statuses) > 0 && statuses[0].State == probe.InstanceRunning {
			step.State = string(probe.InstanceRunning)
			return step
		}
	}

	step.State = "starting"
	step.Warning = fmt.Sprintf("%s did not reach running within %s", kind, o.cfg.DBStartPollTimeout)
	return step
}

type nodePoolStep struct {
	Warning string `json:"warning,omitempty"`
	Status  string `json:"status"`
}

func (o *Orchestrator) scaleNodePoolUp(ctx context.Context, rec registry.ApplicationRecord) nodePoolStep {
	pool := rec.NodePool
	desc, err := o.nodePools.Describe(ctx, pool.Name)
	if err != nil {
		return nodePoolStep{Status: "unknown", Warning: fmt.Sprintf("node pool describe failed: %v", err)}
	}

	if desc.Desired != pool.DefaultDesired || desc.Min != pool.DefaultMin || desc.Max != pool.DefaultMax {
		if err := o.nodePools.UpdateScaling(ctx, pool.Name, pool.DefaultDesired, pool.DefaultMin, pool.DefaultMax); err != nil {
			return nodePoolStep{Status: string(desc.Status), Warning: fmt.Sprintf("node pool scale failed: %v", err)}
		}
	}

	deadline := time.Now().Add(o.cfg.NodePoolScaleTimeout)
	for time.Now().Before(deadline) {
		desc, err := o.nodePools.Describe(ctx, pool.Name)
		if err == nil && desc.Status == probe.NodePoolActive && desc.CurrentNodes >= pool.DefaultDesired {
			return nodePoolStep{Status: string(desc.Status)}
		}
		select {
		case <-ctx.Done():
			return nodePoolStep{Status: "unknown", Warning: "node pool poll cancelled"}
		case <-time.After(o.cfg.NodePoolPollInterval):
		}
	}
	return nodePoolStep{Status: "scaling", Warning: fmt.Sprintf("node pool did not reach ACTIVE with %d nodes within %s", pool.DefaultDesired, o.cfg.NodePoolScaleTimeout)}
}

type workloadStep struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Target  int32  `json:"target"`
	Warning string `json:"warning,omitempty"`
}

func (o *Orchestrator) scaleWorkloadsUp(ctx context.Context, rec registry.ApplicationRecord) []workloadStep {
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
		if d.Replicas != 0 {
			continue
		}
		target := defaultReplicas(d.Replicas)
		wg.Add(1)
		go func(name string, target int32) {
			defer wg.Done()
			step := workloadStep{Kind: "deployment", Name: name, Target: target}
			if err := o.workloads.ScaleDeployment(ctx, rec.Namespace, name, target); err != nil {
				step.Warning = fmt.Sprintf("scaling deployment %s: %v", name, err)
			}
			mu.Lock()
			steps = append(steps, step)
			mu.Unlock()
		}(d.Name, target)
	}
	for _, s := range statefulsets {
		if s.Replicas != 0 {
			continue
		}
		target := defaultReplicas(s.Replicas)
		wg.Add(1)
		go func(name string, target int32) {
			defer wg.Done()
			step := workloadStep{Kind: "statefulset", Name: name, Target: target}
			if err := o.workloads.ScaleStatefulSet(ctx, rec.Namespace, name, target); err != nil {
				step.Warning = fmt.Sprintf("scaling statefulset %s: %v", name, err)
			}
			mu.Lock()
			steps = append(steps, step)
			mu.Unlock()
		}(s.Name, target)
	}
	wg.Wait()
	return steps
}

type httpVerifyStep struct {
	Code    int    `json:"code"`
	Warning string `json:"warning,omitempty"`
}

func (o *Orchestrator) verifyHTTP(ctx context.Context, rec registry.ApplicationRecord) httpVerifyStep {
	if len(rec.Hostnames) == 0 {
		return httpVerifyStep{Warning: "no hostnames to verify"}
	}
	result := o.http.Head(ctx, rec.Hostnames[0], o.cfg.HTTPVerifyTimeout)
	step := httpVerifyStep{Code: result.Code}
	if result.Err != nil {
		step.Warning = fmt.Sprintf("http verify failed: %v", result.Err)
	} else if result.Code != 200 {
		step.Warning = fmt.Sprintf("http verify returned %d", result.Code)
	}
	return step
}

// dbRefs returns the app's configured databases keyed by kind, skipping
// unconfigured ones.
func dbRefs(rec registry.ApplicationRecord) map[string]*registry.DbRef {
	refs := map[string]*registry.DbRef{}
	if rec.Databases.Postgres != nil {
		refs["postgres"] = rec.Databases.Postgres
	}
	if rec.Databases.Neo4j != nil {
		refs["neo4j"] = rec.Databases.Neo4j
	}
	return refs
}

func (o *Orchestrator) logOperation(ctx context.Context, entry registry.OperationLogEntry) {
	telemetry.OperationsTotal.WithLabelValues(entry.Action, string(entry.Source), entry.Result).Inc()
	if o.oplog != nil {
		o.oplog.Log(entry)
	} else if err := o.store.PutOperationLog(ctx, entry, o.cfg.OperationLogTTL); err != nil {
		o.logger.Error("writing operation log entry", "error", err, "app", entry.App, "action", entry.Action)
	}
	if o.notify != nil {
		o.notify(ctx, entry)
	}
}
