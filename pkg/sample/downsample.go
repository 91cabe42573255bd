package sample

// Downsample reduces values to at most maxPoints entries by decimation.
// Destination-based: reuses dst if it has sufficient capacity, otherwise
// allocates new. If len(values) <= maxPoints, all values are copied.
// A maxPoints of zero or less disables decimation.
func Downsample[T any](dst []T, values []T, maxPoints int) []T {
	if maxPoints <= 0 || len(values) <= maxPoints {
		if cap(dst) >= len(values) {
			dst = dst[:len(values)]
			copy(dst, values)
			return dst
		}
		result := make([]T, len(values))
		copy(result, values)
		return result
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0]
	} else {
		dst = make([]T, 0, maxPoints)
	}

	step := float64(len(values)) / float64(maxPoints)
	for i := range maxPoints {
		idx := int(float64(i) * step)
		if idx < len(values) {
			dst = append(dst, values[idx])
		}
	}

	// Keep the newest value visible
	dst[len(dst)-1] = values[len(values)-1]

	return dst
}
