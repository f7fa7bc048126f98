package sock

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SendFile performs a zero-copy send of up to size bytes from srcFD to dstFD
// starting at offset (or the file's current position if offset is nil),
// matching the chunked sendfile(2) usage RETR relies on.
func SendFile(dstFD, srcFD int, offset *int64, size int) (int, error) {
	n, err := unix.Sendfile(dstFD, srcFD, offset, size)
	if err != nil {
		if err == unix.EAGAIN {
			return n, nil
		}
		return n, fmt.Errorf("sock: sendfile: %w", err)
	}
	return n, nil
}
