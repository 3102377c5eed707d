package registry

import "fmt"

// DbRef identifies an external database VM backing an application. An empty
// InstanceID means the DB is opaque to lifecycle operations: start/stop
// must refuse to act on it.
type DbRef struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Database   string `json:"database,omitempty"`
	User       string `json:"user,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
}

// HasInstance reports whether this DbRef carries an instance ID and can
// therefore be started or stopped.
func (d DbRef) HasInstance() bool {
	return d.InstanceID != ""
}

// NodePoolRef describes the node pool backing an application, including the
// authoritative scaling defaults applied whenever the app is started.
type NodePoolRef struct {
	Name           string `json:"name"`
	DefaultDesired int32  `json:"default_desired"`
	DefaultMin     int32  `json:"default_min"`
	DefaultMax     int32  `json:"default_max"`
}

// SharedResource annotates a resource referenced by more than one app.
type SharedResource struct {
	Identifier string   `json:"identifier"`
	LinkedApps []string `json:"linked_apps"`
}

// Databases groups the two database kinds an app may own.
type Databases struct {
	Postgres *DbRef `json:"postgres,omitempty"`
	Neo4j    *DbRef `json:"neo4j,omitempty"`
}

// SharedResources groups shared-resource annotations by kind, computed by
// discovery whenever a DB instance or node pool is claimed by more than one
// app.
type SharedResources struct {
	Postgres []SharedResource `json:"postgres,omitempty"`
	Neo4j    []SharedResource `json:"neo4j,omitempty"`
	NodePool []SharedResource `json:"node_pool,omitempty"`
}

// ApplicationRecord is the structural projection of a single application,
// keyed by its canonical hostname. Structural fields (namespace, hostnames,
// node pool, databases) are owned exclusively by discovery; shared_resources
// may additionally be refined by the orchestrator at action time.
type ApplicationRecord struct {
	AppName          string          `json:"app_name"`
	Namespace        string          `json:"namespace"`
	Hostnames        []string        `json:"hostnames"`
	NodePool         *NodePoolRef    `json:"node_pool,omitempty"`
	Databases        Databases       `json:"databases"`
	SharedResources  SharedResources `json:"shared_resources"`
	LastDiscoveredAt int64           `json:"last_discovered_at"`
}

// LeaseRecord is a short-lived exclusive claim on a named resource, fenced
// by owner ID and bounded by TTL.
type LeaseRecord struct {
	OwnerID            string `json:"owner_id"`
	ExpiresAt          int64  `json:"expires_at"`
	LockType           string `json:"lock_type"`
	ResourceIdentifier string `json:"resource_identifier"`
	CreatedAt          int64  `json:"created_at"`
}

// Live reports whether the lease has not yet expired as of now (unix seconds).
func (l LeaseRecord) Live(nowUnix int64) bool {
	return nowUnix < l.ExpiresAt
}

// ScheduleRecord is the per-app automation toggle. Window times and
// weekdays are not stored here; they come from the global schedule
// configuration.
type ScheduleRecord struct {
	AppName string `json:"app_name"`
	Enabled bool   `json:"enabled"`
}

// OperationLogSource identifies who triggered a lifecycle operation.
type OperationLogSource string

const (
	SourceUser      OperationLogSource = "user"
	SourceScheduler OperationLogSource = "scheduler"
)

// OperationLogEntry is an append-only trace of a lifecycle operation.
type OperationLogEntry struct {
	App        string             `json:"app"`
	Action     string             `json:"action"`
	Source     OperationLogSource `json:"source"`
	StartedAt  int64              `json:"started_at"`
	FinishedAt int64              `json:"finished_at"`
	Result     string             `json:"result"`
	Reason     string             `json:"reason,omitempty"`
	Steps      map[string]any     `json:"steps,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
}

// CostBreakdown itemizes a CostSnapshot's daily cost by resource category.
type CostBreakdown struct {
	NodePool  float64 `json:"node_pool"`
	DBCompute float64 `json:"db_compute"`
	DBStorage float64 `json:"db_storage"`
	Network   float64 `json:"network"`
}

// CostSnapshot is a point-in-time cost estimate for an application.
type CostSnapshot struct {
	App                  string        `json:"app"`
	Date                 string        `json:"date"`
	DailyCost            float64       `json:"daily_cost"`
	YesterdayCost        float64       `json:"yesterday_cost"`
	ProjectedMonthlyCost float64       `json:"projected_monthly_cost"`
	Breakdown            CostBreakdown `json:"breakdown"`
}

// Key prefixes for the persisted state layout. Writes to the application
// namespace never touch the lease namespace (separate key prefixes).
const (
	appPrefix      = "APP#"
	leasePrefix    = "LOCK#DB#"
	schedulePrefix = "SCHED#"
	oplogPrefix    = "OPLOG#"
	costPrefix     = "COST#"
)

// AppKey returns the registry key for an application's structural record.
func AppKey(appName string) string {
	return appPrefix + appName
}

// LeaseKey returns the registry key for a named resource's lease.
func LeaseKey(resourceID string) string {
	return leasePrefix + resourceID
}

// ScheduleKey returns the registry key for an app's schedule toggle.
func ScheduleKey(appName string) string {
	return schedulePrefix + appName
}

// OplogKey returns the registry key for an operation log entry recorded at
// the given unix timestamp.
func OplogKey(appName string, ts int64) string {
	return fmt.Sprintf("%s%s#%d", oplogPrefix, appName, ts)
}

// OplogPrefix returns the scan prefix covering all operation log entries for
// an app.
func OplogPrefix(appName string) string {
	return fmt.Sprintf("%s%s#", oplogPrefix, appName)
}

// CostKey returns the registry key for a dated cost snapshot.
func CostKey(appName, date string) string {
	return fmt.Sprintf("%s%s#%s", costPrefix, appName, date)
}

// CostLatestKey returns the registry key for an app's most recent cost snapshot.
func CostLatestKey(appName string) string {
	return fmt.Sprintf("%s%s#latest", costPrefix, appName)
}

// AppPrefix is the scan prefix covering all application records.
const AppPrefix = appPrefix
