// Package command turns recognised gestures into actuator command frames
// and operator feedback requests.
package command

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Tag selects the actuator operation mode.
type Tag string

// Actuator operation modes.
const (
	Hold    Tag = "hld"
	Chassis Tag = "chs"
	Gimbal  Tag = "gim"
	Shooter Tag = "sho"
)

const tagLen = 3

var (
	ErrUnknownTag   = errors.New("command: unknown tag")
	ErrChannelCount = errors.New("command: wrong channel count")
)

// Channels returns how many int16 channels follow tag, or -1 for an
// unknown tag.
func (t Tag) Channels() int {
	switch t {
	case Hold, Shooter:
		return 0
	case Chassis:
		return 3
	case Gimbal:
		return 2
	}
	return -1
}

// Frame is one actuator command.
type Frame struct {
	Tag      Tag
	Channels []int16
}

// Encode returns the ASCII tag followed by each channel as a big-endian
// int16, with no delimiter.
func (f Frame) Encode() ([]byte, error) {
	want := f.Tag.Channels()
	if want < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, f.Tag)
	}
	if len(f.Channels) != want {
		return nil, fmt.Errorf("%w: %s has %d, want %d", ErrChannelCount, f.Tag, len(f.Channels), want)
	}
	buf := make([]byte, 0, tagLen+2*want)
	buf = append(buf, f.Tag...)
	for _, v := range f.Channels {
		buf = binary.BigEndian.AppendUint16(buf, uint16(v))
	}
	return buf, nil
}

// Decode parses one encoded frame.
func Decode(b []byte) (Frame, error) {
	if len(b) < tagLen {
		return Frame{}, fmt.Errorf("%w: short frame", ErrUnknownTag)
	}
	tag := Tag(b[:tagLen])
	want := tag.Channels()
	if want < 0 {
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	body := b[tagLen:]
	if len(body) != 2*want {
		return Frame{}, fmt.Errorf("%w: %s has %d bytes of channels, want %d", ErrChannelCount, tag, len(body), 2*want)
	}
	f := Frame{Tag: tag}
	if want > 0 {
		f.Channels = make([]int16, want)
		for i := range f.Channels {
			f.Channels[i] = int16(binary.BigEndian.Uint16(body[2*i:]))
		}
	}
	return f, nil
}

func (f Frame) String() string {
	if len(f.Channels) == 0 {
		return string(f.Tag)
	}
	parts := make([]string, len(f.Channels))
	for i, v := range f.Channels {
		parts[i] = fmt.Sprint(v)
	}
	return fmt.Sprintf("%s[%s]", f.Tag, strings.Join(parts, " "))
}
