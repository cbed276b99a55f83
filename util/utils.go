package util

// Map applies fn to every element.
func Map[T, V any](ts []T, fn func(T) V) []V {
	if ts == nil {
		return nil
	}
	result := make([]V, len(ts))
	for i, t := range ts {
		result[i] = fn(t)
	}
	return result
}

// MapN applies fn to every element and stops at the first error.
func MapN[T, V any](ts []T, fn func(T) (V, error)) ([]V, error) {
	result := make([]V, 0, len(ts))
	for _, t := range ts {
		v, err := fn(t)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}

func Filter[T any](ts []T, fn func(T) bool) []T {
	result := []T{}
	for _, v := range ts {
		if fn(v) {
			result = append(result, v)
		}
	}
	return result
}

func Reduce[T, V any](ts []T, acc func(t T, v V) V, base V) V {
	for _, v := range ts {
		base = acc(v, base)
	}

	return base
}
