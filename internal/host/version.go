package host

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Version is a (major, minor, patch) tuple. Addon manifests declare both
// their own version and the host version they were written against in this
// form.
type Version struct {
	Major int
	Minor int
	Patch int
}

// V is shorthand for building a Version literal.
func V(major, minor, patch int) Version {
	return Version{Major: major, Minor: minor, Patch: patch}
}

// ParseVersion accepts "1.50.0", "1.50" or "1".
func ParseVersion(value string) (Version, error) {
	nums, err := splitVersion(value)
	if err != nil {
		return Version{}, err
	}
	if len(nums) > 3 {
		return Version{}, fmt.Errorf("host: version %q has more than three components", value)
	}
	return FromInts(nums...)
}

func splitVersion(value string) ([]int, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "v")
	if trimmed == "" {
		return nil, fmt.Errorf("host: empty version")
	}
	parts := strings.Split(trimmed, ".")
	nums := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("host: version %q: %w", value, err)
		}
		nums = append(nums, n)
	}
	return nums, nil
}

// FromInts builds a Version from up to three components. Missing components
// are zero, so (1, 50) and (1, 50, 0) are the same host version.
func FromInts(nums ...int) (Version, error) {
	if len(nums) > 3 {
		return Version{}, fmt.Errorf("host: version has %d components, want at most 3", len(nums))
	}
	var v Version
	for i, n := range nums {
		if n < 0 {
			return Version{}, fmt.Errorf("host: version component %d is negative", i)
		}
		switch i {
		case 0:
			v.Major = n
		case 1:
			v.Minor = n
		case 2:
			v.Patch = n
		}
	}
	return v, nil
}

// Compare returns -1, 0 or +1.
func (v Version) Compare(other Version) int {
	switch {
	case v.Major != other.Major:
		return sign(v.Major - other.Major)
	case v.Minor != other.Minor:
		return sign(v.Minor - other.Minor)
	default:
		return sign(v.Patch - other.Patch)
	}
}

// Less reports whether v sorts before other.
func (v Version) Less(other Version) bool {
	return v.Compare(other) < 0
}

// IsZero reports whether every component is zero.
func (v Version) IsZero() bool {
	return v == Version{}
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Tuple is an addon's own version: any number of non-negative components,
// ordered element by element with a shorter prefix sorting first.
type Tuple []int

// T is shorthand for building a Tuple literal.
func T(nums ...int) Tuple {
	return Tuple(nums)
}

// TupleFrom validates nums and copies them into a Tuple.
func TupleFrom(nums ...int) (Tuple, error) {
	for i, n := range nums {
		if n < 0 {
			return nil, fmt.Errorf("host: version component %d is negative", i)
		}
	}
	if len(nums) == 0 {
		return nil, nil
	}
	return append(Tuple(nil), nums...), nil
}

// ParseTuple accepts a dotted version with any number of components.
func ParseTuple(value string) (Tuple, error) {
	nums, err := splitVersion(value)
	if err != nil {
		return nil, err
	}
	return TupleFrom(nums...)
}

// Compare returns -1, 0 or +1.
func (t Tuple) Compare(other Tuple) int {
	return slices.Compare(t, other)
}

// IsZero reports whether the tuple is empty.
func (t Tuple) IsZero() bool {
	return len(t) == 0
}

func (t Tuple) String() string {
	parts := make([]string, len(t))
	for i, n := range t {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
