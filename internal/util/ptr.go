// Package util holds small generic helpers.
package util

// Ptr returns a pointer to a copy of v, for optional settings such as
// am.ServerConfig.Port where nil means "use the default".
func Ptr[T any](v T) *T {
	return &v
}
