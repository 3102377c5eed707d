package discovery

import (
	"testing"

	"github.com/haloworks/fleetctl/pkg/probe"
	"github.com/haloworks/fleetctl/pkg/registry"
)

func TestAppendUnique(t *testing.T) {
	got := appendUnique([]string{"a", "b"}, "b", "c", "", "c")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("appendUnique() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("appendUnique()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseConnectionFields_Canonical(t *testing.T) {
	cm := map[string]string{
		"POSTGRES_HOST":  "pg.internal",
		"POSTGRES_PORT":  "5432",
		"POSTGRES_DB":    "shop",
		"POSTGRES_USER":  "app",
		"NEO4J_URI":      "bolt://neo.internal:7687",
		"NEO4J_USERNAME": "neo4j",
	}
	pg, neo := parseConnectionFields(cm)
	if pg == nil || pg.Host != "pg.internal" || pg.Port != 5432 || pg.Database != "shop" || pg.User != "app" {
		t.Errorf("unexpected postgres ref: %+v", pg)
	}
	if neo == nil || neo.Host != "neo.internal" || neo.Port != 7687 || neo.User != "neo4j" {
		t.Errorf("unexpected neo4j ref: %+v", neo)
	}
}

func TestParseConnectionFields_LegacyAliases(t *testing.T) {
	cm := map[string]string{
		"PG_HOST":     "pg-legacy.internal",
		"PG_PORT":     "5433",
		"PG_DATABASE": "legacy_db",
		"PG_USER":     "legacy_user",
	}
	pg, neo := parseConnectionFields(cm)
	if pg == nil || pg.Host != "pg-legacy.internal" || pg.Port != 5433 {
		t.Errorf("unexpected legacy postgres ref: %+v", pg)
	}
	if neo != nil {
		t.Error("expected no neo4j ref when no key is present")
	}
}

func TestParseConnectionFields_Empty(t *testing.T) {
	pg, neo := parseConnectionFields(map[string]string{})
	if pg != nil || neo != nil {
		t.Error("expected nil refs for an empty configmap")
	}
}

func TestSplitNeo4jURI(t *testing.T) {
	cases := []struct {
		in       string
		wantHost string
		wantPort int
	}{
		{"bolt://neo.internal:7687", "neo.internal", 7687},
		{"neo.internal:7688", "neo.internal", 7688},
		{"neo.internal", "neo.internal", 7687},
		{"bolt+s://neo.internal", "neo.internal", 7687},
	}
	for _, tc := range cases {
		host, port := splitNeo4jURI(tc.in)
		if host != tc.wantHost || port != tc.wantPort {
			t.Errorf("splitNeo4jURI(%q) = (%q, %d), want (%q, %d)", tc.in, host, port, tc.wantHost, tc.wantPort)
		}
	}
}

func TestComputeShared_MultiTenantInstanceIsShared(t *testing.T) {
	apps := map[string]*projected{
		"a": {postgres: &registry.DbRef{InstanceID: "i-1"}},
		"b": {postgres: &registry.DbRef{InstanceID: "i-1"}},
		"c": {postgres: &registry.DbRef{InstanceID: "i-2"}},
	}
	postgres, _, _ := computeShared(apps)

	if len(postgres["a"]) != 1 || postgres["a"][0].Identifier != "i-1" {
		t.Errorf("app a should be annotated shared on i-1: %+v", postgres["a"])
	}
	if len(postgres["c"]) != 0 {
		t.Errorf("app c's solo instance must not be annotated shared: %+v", postgres["c"])
	}
	linked := postgres["a"][0].LinkedApps
	if len(linked) != 2 {
		t.Errorf("expected 2 linked apps for i-1, got %v", linked)
	}
}

func TestAttachInstance(t *testing.T) {
	p := &projected{}
	attachInstance(p, probe.TaggedInstance{ID: "i-pg", Component: "postgres"})
	if p.postgres == nil || p.postgres.InstanceID != "i-pg" {
		t.Errorf("expected postgres instance attached, got %+v", p.postgres)
	}

	p2 := &projected{}
	attachInstance(p2, probe.TaggedInstance{ID: "i-neo", Component: "Neo4j"})
	if p2.neo4j == nil || p2.neo4j.InstanceID != "i-neo" {
		t.Errorf("expected neo4j instance attached case-insensitively, got %+v", p2.neo4j)
	}
}

func TestResolveHostToInstance(t *testing.T) {
	p := &projected{postgres: &registry.DbRef{Host: "10.0.0.5"}}
	tagged := []probe.TaggedInstance{{ID: "i-resolved", PrivateIP: "10.0.0.5"}}

	resolveHostToInstance(p, tagged)

	if p.postgres.InstanceID != "i-resolved" {
		t.Errorf("expected host-to-instance resolution, got %+v", p.postgres)
	}
}

func TestResolveHostToInstance_AlreadyResolvedIsUntouched(t *testing.T) {
	p := &projected{postgres: &registry.DbRef{Host: "10.0.0.5", InstanceID: "i-already"}}
	tagged := []probe.TaggedInstance{{ID: "i-other", PrivateIP: "10.0.0.5"}}

	resolveHostToInstance(p, tagged)

	if p.postgres.InstanceID != "i-already" {
		t.Errorf("an already-resolved instance_id must not be overwritten, got %+v", p.postgres)
	}
}
