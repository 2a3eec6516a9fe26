package paths

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a/b", []string{"a", "b"}},
		{"a//b", []string{"a", "", "b"}},
		{"a/b//", []string{"a", "b"}},
		{"", []string{""}},
		{"/", []string{}},
		{"//a", []string{"", "", "a"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, Split(tt.in, "/")); diff != "" {
			t.Errorf("Split(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestSegments(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"/Projects/demo/Models", []string{"Projects", "demo", "Models"}},
		{"/Projects/demo/", []string{"Projects", "demo"}},
		{"Projects/demo", []string{"Projects", "demo"}},
		{"hopsfs://namenode:8020/Projects/demo", []string{"Projects", "demo"}},
		{"hdfs:///Projects/demo", []string{"Projects", "demo"}},
		{"hopsfs://namenode:8020", nil},
		{"/a//b", []string{"a", "", "b"}},
		{"/", nil},
		{"", nil},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, Segments(tt.in)); diff != "" {
			t.Errorf("Segments(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestConventions(t *testing.T) {
	if got := Dataset("demo", "Airflow"); got != "/Projects/demo/Airflow" {
		t.Errorf("Dataset = %q", got)
	}
	if got := Project("demo"); got != "/Projects/demo" {
		t.Errorf("Project = %q", got)
	}
	if got := FeaturestoreDB("Demo"); got != "/apps/hive/warehouse/demo_featurestore.db" {
		t.Errorf("FeaturestoreDB = %q", got)
	}
	if got := Parent("/Projects/demo/Models"); got != "/Projects/demo" {
		t.Errorf("Parent = %q", got)
	}
	if got := Parent("/Projects"); got != "/" {
		t.Errorf("Parent of top level = %q", got)
	}
	if got := Base("/Projects/demo/Models/"); got != "Models" {
		t.Errorf("Base = %q", got)
	}
}
