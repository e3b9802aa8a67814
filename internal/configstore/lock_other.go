//go:build !unix

package configstore

// lockFile is a no-op where flock is unavailable; the in-process mutex still
// serializes writers.
func lockFile(string) (func(), error) {
	return func() {}, nil
}
