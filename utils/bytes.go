package utils

// JoinBytes concatenates the given byte slices into a single new byte slice.
// The broadcast server uses it to put a message and its delimiter into one
// buffer so each peer receives them in a single write.
//
// Parameters:
//   - s: One or more byte slices to concatenate
//
// Returns:
//   - A new byte slice containing all input slices in order
func JoinBytes(s ...[]byte) []byte {
	n := 0
	for _, v := range s {
		n += len(v)
	}

	b, i := make([]byte, n), 0
	for _, v := range s {
		i += copy(b[i:], v)
	}

	return b
}
