package cdasset

// SmallNumberTolerance is the epsilon used by floating point comparisons.
const SmallNumberTolerance = 1e-5

// Number is the capability set required from vector components.
type Number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int |
		~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint |
		~float32 | ~float64
}

// NearlyEqual compares integers exactly and floats with SmallNumberTolerance.
func NearlyEqual[T Number](a, b T) bool {
	one, two := T(1), T(2)
	if one/two == 0 {
		return a == b
	}
	d := float64(a) - float64(b)
	if d < 0 {
		d = -d
	}
	return d <= SmallNumberTolerance
}

// NearlyEqualSlice is NearlyEqual applied component-wise, vec3.T{}[:] style.
func NearlyEqualSlice[T Number](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !NearlyEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}
