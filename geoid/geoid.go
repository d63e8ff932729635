// Package geoid models the county identifier space of the NREL SLOPE portal.
//
// A GeoID is "G" followed by seven digits: two state FIPS digits and five
// county digits. County codes advance in increments of ten, so the successor
// of G0100010 is G0100020. The space is dense but not fully populated; a
// well-formed GeoID may still name no real county.
package geoid

import (
	"fmt"
	"strconv"
)

// Step is the distance between consecutive identifiers in the space.
const Step = 10

// GeoID is a fixed-width county identifier, e.g. "G0100010".
type GeoID string

// InvalidRangeError reports a malformed identifier or an inverted range.
type InvalidRangeError struct {
	Reason string
}

func (e *InvalidRangeError) Error() string {
	return "geoid: invalid range: " + e.Reason
}

// Parse validates a raw identifier string. Every suffix character must be a
// digit; strconv would also accept signs, which are not identifiers.
func Parse(s string) (GeoID, error) {
	if len(s) != 8 || s[0] != 'G' {
		return "", &InvalidRangeError{Reason: fmt.Sprintf("malformed identifier %q (want G + 7 digits)", s)}
	}
	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return "", &InvalidRangeError{Reason: fmt.Sprintf("malformed identifier %q: non-digit suffix", s)}
		}
	}
	return GeoID(s), nil
}

// Format builds an identifier from its numeric value.
func Format(n int) GeoID {
	return GeoID(fmt.Sprintf("G%07d", n))
}

// Num returns the numeric portion of the identifier.
// The identifier must be well-formed (see Parse).
func (id GeoID) Num() int {
	n, _ := strconv.Atoi(string(id)[1:])
	return n
}

// Next returns the successor identifier.
func (id GeoID) Next() GeoID {
	return Format(id.Num() + Step)
}

// StateFIPS returns the two-digit state FIPS code.
func (id GeoID) StateFIPS() string {
	return string(id)[1:3]
}

// CountyFIPS returns the five-digit county code.
func (id GeoID) CountyFIPS() string {
	return string(id)[3:8]
}

// Range is an inclusive, ascending span of identifiers.
type Range struct {
	Start GeoID
	End   GeoID
}

// NewRange validates both bounds and their ordering.
func NewRange(start, end string) (Range, error) {
	s, err := Parse(start)
	if err != nil {
		return Range{}, err
	}
	e, err := Parse(end)
	if err != nil {
		return Range{}, err
	}
	if s.Num() > e.Num() {
		return Range{}, &InvalidRangeError{Reason: fmt.Sprintf("start %s is after end %s", s, e)}
	}
	return Range{Start: s, End: e}, nil
}

// Contains reports whether id falls inside the range.
func (r Range) Contains(id GeoID) bool {
	n := id.Num()
	return n >= r.Start.Num() && n <= r.End.Num()
}

// Count returns the number of identifiers in the range.
func (r Range) Count() int {
	return (r.End.Num()-r.Start.Num())/Step + 1
}

// IDs expands the range into its full ascending identifier sequence.
func (r Range) IDs() []GeoID {
	ids := make([]GeoID, 0, r.Count())
	for n := r.Start.Num(); n <= r.End.Num(); n += Step {
		ids = append(ids, Format(n))
	}
	return ids
}

// Partition splits the range's sequence into k contiguous sub-slices.
// See PartitionIDs for the guarantees.
func (r Range) Partition(k int) ([][]GeoID, error) {
	return PartitionIDs(r.IDs(), k)
}

// PartitionIDs splits an ordered identifier slice into k contiguous chunks
// whose sizes differ by at most one and whose in-order concatenation equals
// the input exactly. The split is deterministic for a given (ids, k), so a
// resumed run with identical parameters reproduces the same assignment.
func PartitionIDs(ids []GeoID, k int) ([][]GeoID, error) {
	if k < 1 {
		return nil, &InvalidRangeError{Reason: fmt.Sprintf("partition count %d must be positive", k)}
	}
	n := len(ids)
	base := n / k
	rem := n % k

	parts := make([][]GeoID, 0, k)
	off := 0
	for i := 0; i < k; i++ {
		size := base
		if i < rem {
			size++
		}
		parts = append(parts, ids[off:off+size])
		off += size
	}
	return parts, nil
}
