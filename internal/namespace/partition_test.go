package namespace

import "testing"

// Keys captured from a HopsFS inode snapshot.
func TestHopsPartitionerPinned(t *testing.T) {
	p := HopsPartitioner{RandomLevel: DefaultRandomLevel}
	tests := []struct {
		parent int64
		name   string
		depth  int
		want   int64
	}{
		{1, "Projects", 1, 1},
		{1, "apps", 1, 1},
		{2, "demo", 2, 95469231},
		{10, "Models", 3, -554376663},
		{12345, "fg1_1", 4, -692271567},
		{1, "a", 2, 3056},
		{3, "a", 2, 3058},
		{9, "b", 3, 3095},
		{7, "résumé", 3, 581631906},
		{987654321, "training_datasets", 5, -216221067},
	}
	for _, tt := range tests {
		if got := p.Partition(tt.parent, tt.name, tt.depth); got != tt.want {
			t.Errorf("Partition(%d, %q, %d) = %d, want %d", tt.parent, tt.name, tt.depth, got, tt.want)
		}
	}
}

func TestHopsPartitionerRandomLevel(t *testing.T) {
	p := HopsPartitioner{RandomLevel: 2}
	if got := p.Partition(2, "demo", 2); got != 2 {
		t.Fatalf("expected parent id at depth <= random level, got %d", got)
	}
	if got := p.Partition(2, "demo", 3); got != 95469231 {
		t.Fatalf("expected hash beyond random level, got %d", got)
	}
}

func TestJavaHash(t *testing.T) {
	tests := map[string]int32{
		"":      0,
		"a":     97,
		"hello": 99162322,
		// surrogate pair hashed as two UTF-16 units
		"😀": 1772899,
	}
	for s, want := range tests {
		if got := javaHash(s); got != want {
			t.Errorf("javaHash(%q) = %d, want %d", s, got, want)
		}
	}
}
