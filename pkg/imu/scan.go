package imu

import (
	"bufio"
	"bytes"
	"io"
)

const maxFrameSize = 64 * RecordSize

// SplitFrames is a bufio.SplitFunc that yields delimiter-terminated frames
// with the delimiter kept, so each token can be passed straight to Decode.
// A trailing fragment without a delimiter at EOF is returned as-is and will
// fail Decode's length check. Line noise longer than a whole frame is
// dropped, except for its last byte which may start a delimiter.
func SplitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.Index(data, []byte(Delimiter)); i >= 0 {
		n := i + len(Delimiter)
		return n, data[:n], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	if len(data) >= maxFrameSize {
		return len(data) - 1, nil, nil
	}
	return 0, nil, nil
}

// NewScanner returns a scanner over r that yields one frame per Scan.
func NewScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256), maxFrameSize)
	sc.Split(SplitFrames)
	return sc
}
