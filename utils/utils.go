package utils

// Must panics on a non-nil error. For startup code only.
func Must[T any](obj T, err error) T {
	if err != nil {
		panic(err)
	}
	return obj
}
