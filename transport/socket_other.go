//go:build !linux

package transport

// SocketTransport is unavailable outside Linux; every call fails with ErrNotSupported.
type SocketTransport struct{}

// NewSocketTransport returns a Transport that always fails with ErrNotSupported.
func NewSocketTransport() *SocketTransport {
	return &SocketTransport{}
}

func (SocketTransport) Listen(string, int) (int, error) { return -1, ErrNotSupported }
func (SocketTransport) Accept(int) (int, string, error) { return -1, "", ErrNotSupported }
func (SocketTransport) Read(int, []byte) (int, error) { return 0, ErrNotSupported }
func (SocketTransport) Write(int, []byte) (int, error) { return 0, ErrNotSupported }
func (SocketTransport) SetNonBlocking(int) error { return ErrNotSupported }
func (SocketTransport) Close(int) error { return ErrNotSupported }
func (SocketTransport) LocalAddr(int) (string, error) { return "", ErrNotSupported }
