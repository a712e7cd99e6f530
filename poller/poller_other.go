//go:build !linux

package poller

// New reports ErrNotSupported outside Linux.
func New() (Poller, error) {
	return nil, ErrNotSupported
}
