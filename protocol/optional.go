package protocol

// Ptr returns a pointer to v, for filling optional parameter fields.
func Ptr[T any](v T) *T {
	return &v
}
