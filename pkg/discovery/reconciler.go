// Package discovery implements the discovery reconciler: a periodic
// scan of cluster ingresses, per-namespace configmaps, and tagged VM
// instances that produces the authoritative ApplicationRecord projection
// written into the registry.
package discovery

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/haloworks/fleetctl/internal/config"
	"github.com/haloworks/fleetctl/pkg/probe"
	"github.com/haloworks/fleetctl/pkg/registry"
)

// Reconciler projects cluster ingresses, configmaps, and tagged VM
// instances into ApplicationRecords.
type Reconciler struct {
	store        *registry.Store
	ingresses    probe.IngressProber
	instances    probe.InstanceProber
	logger       *slog.Logger
	namespaces   func() map[string]string
	nodePools    func() map[string]config.NodePoolOverride
	tagAppName   string
	tagComponent string
	tagShared    string
}

// New constructs a Reconciler. namespaces and nodePoolDefaults are passed
// as funcs rather than static maps so the authoritative override tables in
// Config can be hot-reloaded by callers that re-parse config between runs;
// the reconciler itself never mutates them.
func New(store *registry.Store, ingresses probe.IngressProber, instances probe.InstanceProber, logger *slog.Logger, namespaces func() map[string]string, nodePoolDefaults func() map[string]config.NodePoolOverride, tagAppName, tagComponent, tagShared string) *Reconciler {
	return &Reconciler{
		store:        store,
		ingresses:    ingresses,
		instances:    instances,
		logger:       logger,
		namespaces:   namespaces,
		nodePools:    nodePoolDefaults,
		tagAppName:   tagAppName,
		tagComponent: tagComponent,
		tagShared:    tagShared,
	}
}

// projected is the reconciler's working accumulator for a single run,
// keyed by app_name, before it is flattened into ApplicationRecords and
// written to the registry.
type projected struct {
	namespace string
	hostnames []string
	nodePool  *registry.NodePoolRef
	postgres  *registry.DbRef
	neo4j     *registry.DbRef
}

// Run executes one full discovery pass. Per-app failures are logged and
// do not abort the scan; the run is strictly additive and never deletes a
// previously-written record.
func (r *Reconciler) Run(ctx context.Context) error {
	ingresses, err := r.ingresses.ListIngresses(ctx)
	if err != nil {
		return err
	}

	apps := map[string]*projected{}
	order := []string{}

	nsOverrides := r.namespaces()
	poolOverrides := r.nodePools()

	// Candidate app_name per ingress host, deduplicated with stable
	// order (first ingress wins the app_name/hostnames list).
	for _, ing := range ingresses {
		if len(ing.Hosts) == 0 {
			continue
		}
		appName := ing.Hosts[0]
		p, ok := apps[appName]
		if !ok {
			p = &projected{namespace: ing.Namespace}
			apps[appName] = p
			order = append(order, appName)
		}
		p.hostnames = appendUnique(p.hostnames, ing.Hosts...)

		// Authoritative namespace override.
		if ns, ok := nsOverrides[appName]; ok {
			p.namespace = ns
		}

		// Authoritative node-pool table.
		if override, ok := poolOverrides[appName]; ok {
			if !override.NoPool {
				p.nodePool = &registry.NodePoolRef{
					Name:           override.Default.Name,
					DefaultDesired: override.Default.Desired,
					DefaultMin:     override.Default.Min,
					DefaultMax:     override.Default.Max,
				}
			}
		}
	}

	// Per-app common-config read, best effort.
	for appName, p := range apps {
		cm, err := r.ingresses.GetConfigMap(ctx, p.namespace, "common-config")
		if err != nil {
			r.logger.Warn("reading common-config", "app", appName, "namespace", p.namespace, "error", err)
			continue
		}
		p.postgres, p.neo4j = parseConnectionFields(cm)
	}

	// The tag scan attaches instance_id to every app it matches,
	// either by tag AppName value or by host/IP matching a configmap-
	// declared host (exact match on private IP).
	tagged, err := r.instances.ScanTagged(ctx, r.tagAppName, r.tagComponent, r.tagShared)
	if err != nil {
		r.logger.Warn("scanning tagged instances", "error", err)
		tagged = nil
	}
	for _, inst := range tagged {
		p, ok := apps[inst.AppName]
		if !ok {
			continue
		}
		attachInstance(p, inst)
	}
	// Resolve any DbRef whose host/IP matches a tagged instance's private
	// IP but whose instance_id is still empty (configmap-declared host
	// did not line up with the AppName tag directly).
	for _, p := range apps {
		resolveHostToInstance(p, tagged)
	}

	// Compute shared resources across the whole batch.
	sharedPostgres, sharedNeo4j, sharedPools := computeShared(apps)

	// Write each projected record (last-writer-wins).
	for _, appName := range order {
		p := apps[appName]
		rec := registry.ApplicationRecord{
			AppName:   appName,
			Namespace: p.namespace,
			Hostnames: p.hostnames,
			NodePool:  p.nodePool,
			Databases: registry.Databases{
				Postgres: p.postgres,
				Neo4j:    p.neo4j,
			},
			SharedResources: registry.SharedResources{
				Postgres: sharedPostgres[appName],
				Neo4j:    sharedNeo4j[appName],
				NodePool: sharedPools[appName],
			},
			LastDiscoveredAt: time.Now().Unix(),
		}
		if err := r.store.PutApplication(ctx, rec); err != nil {
			r.logger.Error("writing discovered application record", "app", appName, "error", err)
		}
	}

	return nil
}

func appendUnique(existing []string, add ...string) []string {
	seen := map[string]bool{}
	for _, h := range existing {
		seen[h] = true
	}
	out := existing
	for _, h := range add {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

func attachInstance(p *projected, inst probe.TaggedInstance) {
	switch strings.ToLower(inst.Component) {
	case "postgres", "postgresql":
		if p.postgres == nil {
			p.postgres = &registry.DbRef{}
		}
		p.postgres.InstanceID = inst.ID
	case "neo4j":
		if p.neo4j == nil {
			p.neo4j = &registry.DbRef{}
		}
		p.neo4j.InstanceID = inst.ID
	}
}

func resolveHostToInstance(p *projected, tagged []probe.TaggedInstance) {
	resolve := func(ref *registry.DbRef) {
		if ref == nil || ref.InstanceID != "" || ref.Host == "" {
			return
		}
		for _, inst := range tagged {
			if inst.PrivateIP != "" && inst.PrivateIP == ref.Host {
				ref.InstanceID = inst.ID
				return
			}
		}
	}
	resolve(p.postgres)
	resolve(p.neo4j)
}

// connectionField env var names recognized in common-config, including
// legacy aliases from the configmap's earlier schema generations.
var postgresHostKeys = []string{"POSTGRES_HOST", "PG_HOST", "DATABASE_HOST"}
var postgresPortKeys = []string{"POSTGRES_PORT", "PG_PORT"}
var postgresDBKeys = []string{"POSTGRES_DB", "PG_DATABASE"}
var postgresUserKeys = []string{"POSTGRES_USER", "PG_USER"}
var neo4jURIKeys = []string{"NEO4J_URI", "NEO4J_HOST"}
var neo4jUserKeys = []string{"NEO4J_USERNAME", "NEO4J_USER"}

func parseConnectionFields(cm map[string]string) (postgres, neo4j *registry.DbRef) {
	if host, ok := firstSet(cm, postgresHostKeys); ok {
		ref := &registry.DbRef{Host: host}
		if port, ok := firstSet(cm, postgresPortKeys); ok {
			if p, err := strconv.Atoi(port); err == nil {
				ref.Port = p
			}
		}
		if db, ok := firstSet(cm, postgresDBKeys); ok {
			ref.Database = db
		}
		if user, ok := firstSet(cm, postgresUserKeys); ok {
			ref.User = user
		}
		postgres = ref
	}
	if uri, ok := firstSet(cm, neo4jURIKeys); ok {
		host, port := splitNeo4jURI(uri)
		ref := &registry.DbRef{Host: host, Port: port}
		if user, ok := firstSet(cm, neo4jUserKeys); ok {
			ref.User = user
		}
		neo4j = ref
	}
	return postgres, neo4j
}

func firstSet(cm map[string]string, keys []string) (string, bool) {
	for _, k := range keys {
		if v, ok := cm[k]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// splitNeo4jURI splits a "bolt://host:port" or bare "host:port" value into
// its host and port, defaulting to Neo4j's standard bolt port 7687 when
// unspecified.
func splitNeo4jURI(uri string) (string, int) {
	trimmed := uri
	if idx := strings.Index(trimmed, "://"); idx >= 0 {
		trimmed = trimmed[idx+3:]
	}
	host, portStr, found := strings.Cut(trimmed, ":")
	if !found {
		return host, 7687
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 7687
	}
	return host, port
}

func computeShared(apps map[string]*projected) (postgres, neo4j, pools map[string][]registry.SharedResource) {
	postgresOwners := map[string][]string{}
	neo4jOwners := map[string][]string{}
	poolOwners := map[string][]string{}

	for appName, p := range apps {
		if p.postgres != nil && p.postgres.InstanceID != "" {
			postgresOwners[p.postgres.InstanceID] = append(postgresOwners[p.postgres.InstanceID], appName)
		}
		if p.neo4j != nil && p.neo4j.InstanceID != "" {
			neo4jOwners[p.neo4j.InstanceID] = append(neo4jOwners[p.neo4j.InstanceID], appName)
		}
		if p.nodePool != nil && p.nodePool.Name != "" {
			poolOwners[p.nodePool.Name] = append(poolOwners[p.nodePool.Name], appName)
		}
	}

	postgres = map[string][]registry.SharedResource{}
	neo4j = map[string][]registry.SharedResource{}
	pools = map[string][]registry.SharedResource{}

	for instanceID, owners := range postgresOwners {
		if len(owners) < 2 {
			continue
		}
		for _, appName := range owners {
			postgres[appName] = append(postgres[appName], registry.SharedResource{Identifier: instanceID, LinkedApps: owners})
		}
	}
	for instanceID, owners := range neo4jOwners {
		if len(owners) < 2 {
			continue
		}
		for _, appName := range owners {
			neo4j[appName] = append(neo4j[appName], registry.SharedResource{Identifier: instanceID, LinkedApps: owners})
		}
	}
	for poolName, owners := range poolOwners {
		if len(owners) < 2 {
			continue
		}
		for _, appName := range owners {
			pools[appName] = append(pools[appName], registry.SharedResource{Identifier: poolName, LinkedApps: owners})
		}
	}

	return postgres, neo4j, pools
}
