package testutil

// Ptr returns a pointer to v, for optional fields such as ipc.Request.Action.
func Ptr[T any](v T) *T { return &v }
