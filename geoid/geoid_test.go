package geoid

import (
	"testing"
)

func TestParse_Valid(t *testing.T) {
	id, err := Parse("G0100010")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "G0100010" {
		t.Errorf("got %s", id)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"missing prefix", "0100010X"},
		{"lowercase prefix", "g0100010"},
		{"too short", "G010001"},
		{"too long", "G01000100"},
		{"non-numeric", "G01000AB"},
		{"negative suffix", "G-123456"},
		{"plus suffix", "G+123456"},
		{"embedded sign", "G012-456"},
		{"whitespace suffix", "G 123456"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.in); err == nil {
				t.Errorf("Parse(%q) accepted invalid input", tt.in)
			}
		})
	}
}

func TestNext(t *testing.T) {
	if got := GeoID("G0100010").Next(); got != "G0100020" {
		t.Errorf("Next(G0100010) = %s, want G0100020", got)
	}
	// Carry across the county boundary is plain arithmetic.
	if got := GeoID("G0199990").Next(); got != "G0200000" {
		t.Errorf("Next(G0199990) = %s, want G0200000", got)
	}
}

func TestFIPSParts(t *testing.T) {
	id := GeoID("G0612345")
	if id.StateFIPS() != "06" {
		t.Errorf("state FIPS = %s, want 06", id.StateFIPS())
	}
	if id.CountyFIPS() != "12345" {
		t.Errorf("county FIPS = %s, want 12345", id.CountyFIPS())
	}
}

func TestNewRange_Inverted(t *testing.T) {
	if _, err := NewRange("G0100050", "G0100010"); err == nil {
		t.Error("inverted range accepted")
	}
}

func TestRange_IDs(t *testing.T) {
	r, err := NewRange("G0100010", "G0100050")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := r.IDs()
	want := []GeoID{"G0100010", "G0100020", "G0100030", "G0100040", "G0100050"}
	if len(ids) != len(want) {
		t.Fatalf("got %d ids, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %s, want %s", i, ids[i], want[i])
		}
	}
	if r.Count() != 5 {
		t.Errorf("Count = %d, want 5", r.Count())
	}
}

func TestRange_Contains(t *testing.T) {
	r, _ := NewRange("G0100010", "G0100050")
	if !r.Contains("G0100030") {
		t.Error("interior identifier reported outside")
	}
	if !r.Contains("G0100010") || !r.Contains("G0100050") {
		t.Error("bounds are inclusive")
	}
	if r.Contains("G0100060") {
		t.Error("identifier past the end reported inside")
	}
}

func TestPartitionIDs_FiveAcrossTwo(t *testing.T) {
	r, _ := NewRange("G0100010", "G0100050")
	parts, err := PartitionIDs(r.IDs(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2", len(parts))
	}
	if len(parts[0]) != 3 || len(parts[1]) != 2 {
		t.Errorf("part sizes = %d, %d; want 3, 2", len(parts[0]), len(parts[1]))
	}
	if parts[0][0] != "G0100010" || parts[1][1] != "G0100050" {
		t.Errorf("partition lost ordering: %v", parts)
	}
}

func TestPartitionIDs_Properties(t *testing.T) {
	r, _ := NewRange("G0100010", "G0103470")
	ids := r.IDs()

	for k := 1; k <= 12; k++ {
		parts, err := PartitionIDs(ids, k)
		if err != nil {
			t.Fatalf("k=%d: %v", k, err)
		}
		if len(parts) != k {
			t.Fatalf("k=%d: got %d parts", k, len(parts))
		}

		// Concatenation must reproduce the input exactly, and sizes may
		// differ by at most one.
		var flat []GeoID
		minSize, maxSize := len(ids), 0
		for _, p := range parts {
			flat = append(flat, p...)
			if len(p) < minSize {
				minSize = len(p)
			}
			if len(p) > maxSize {
				maxSize = len(p)
			}
		}
		if len(flat) != len(ids) {
			t.Fatalf("k=%d: concatenation has %d ids, want %d", k, len(flat), len(ids))
		}
		for i := range ids {
			if flat[i] != ids[i] {
				t.Fatalf("k=%d: order broken at %d", k, i)
			}
		}
		if maxSize-minSize > 1 {
			t.Errorf("k=%d: sizes differ by %d", k, maxSize-minSize)
		}
	}
}

func TestPartitionIDs_MoreAgentsThanIDs(t *testing.T) {
	r, _ := NewRange("G0100010", "G0100030")
	parts, err := PartitionIDs(r.IDs(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, p := range parts {
		if len(p) != 1 {
			t.Errorf("part %d has %d ids, want 1", i, len(p))
		}
	}
}

func TestPartitionIDs_InvalidCount(t *testing.T) {
	if _, err := PartitionIDs([]GeoID{"G0100010"}, 0); err == nil {
		t.Error("zero partition count accepted")
	}
}
