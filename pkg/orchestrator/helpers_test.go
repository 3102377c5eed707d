package orchestrator

import (
	"testing"

	"github.com/haloworks/fleetctl/pkg/registry"
)

func TestDefaultReplicas(t *testing.T) {
	cases := []struct {
		current int32
		want    int32
	}{
		{0, 1},
		{1, 1},
		{3, 3},
	}
	for _, tc := range cases {
		if got := defaultReplicas(tc.current); got != tc.want {
			t.Errorf("defaultReplicas(%d) = %d, want %d", tc.current, got, tc.want)
		}
	}
}

func TestDbRefs(t *testing.T) {
	rec := registry.ApplicationRecord{
		Databases: registry.Databases{
			Postgres: &registry.DbRef{InstanceID: "i-pg"},
		},
	}
	refs := dbRefs(rec)
	if len(refs) != 1 {
		t.Fatalf("expected 1 ref, got %d", len(refs))
	}
	if refs["postgres"].InstanceID != "i-pg" {
		t.Errorf("unexpected postgres ref: %+v", refs["postgres"])
	}
	if _, ok := refs["neo4j"]; ok {
		t.Error("neo4j should be absent when unconfigured")
	}
}

func TestFindSharedResource(t *testing.T) {
	shared := []registry.SharedResource{
		{Identifier: "i-1", LinkedApps: []string{"a", "b"}},
	}
	if sr, ok := findSharedResource(shared, "i-1"); !ok || len(sr.LinkedApps) != 2 {
		t.Errorf("expected to find shared resource i-1, got %+v ok=%v", sr, ok)
	}
	if _, ok := findSharedResource(shared, "i-2"); ok {
		t.Error("should not find unrelated identifier")
	}
}

func TestOtherApps(t *testing.T) {
	got := otherApps([]string{"a", "b", "c"}, "b")
	want := []string{"a", "c"}
	if len(got) != len(want) {
		t.Fatalf("otherApps() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("otherApps()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSharedResourcesFor(t *testing.T) {
	rec := registry.ApplicationRecord{
		SharedResources: registry.SharedResources{
			Postgres: []registry.SharedResource{{Identifier: "i-1"}},
			Neo4j:    []registry.SharedResource{{Identifier: "i-2"}},
		},
	}
	if len(sharedResourcesFor(rec, "postgres")) != 1 {
		t.Error("expected one postgres shared resource")
	}
	if len(sharedResourcesFor(rec, "neo4j")) != 1 {
		t.Error("expected one neo4j shared resource")
	}
	if sharedResourcesFor(rec, "nodepool") != nil {
		t.Error("expected nil for unrecognized kind")
	}
}
