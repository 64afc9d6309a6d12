package command

import (
	"fmt"
	"strconv"
	"strings"
)

// FeedbackKind selects the glove's operator feedback device.
type FeedbackKind string

const (
	Vibration      FeedbackKind = "m"
	Buzzer         FeedbackKind = "b"
	VolumeRelative FeedbackKind = "vr"
	VolumeAbsolute FeedbackKind = "va"
)

// Vibration and buzzer patterns understood by the glove.
const (
	VibrateSlight = 0
	VibrateMedium = 1
	VibrateHeavy  = 2
	VibrateDouble = 3
	VibrateTriple = 4

	BuzzDouble     = 0
	BuzzTriple     = 1
	BuzzLong       = 2
	BuzzDoubleLong = 3
)

// Feedback is a request sent up the bluetooth category as "kind,value".
type Feedback struct {
	Kind  FeedbackKind
	Value int
}

// Payload returns the wire form, e.g. "m,0".
func (f Feedback) Payload() []byte {
	return []byte(f.String())
}

func (f Feedback) String() string {
	return fmt.Sprintf("%s,%d", f.Kind, f.Value)
}

// ParseFeedback parses a "kind,value" request.
func ParseFeedback(b []byte) (Feedback, error) {
	kind, num, ok := strings.Cut(string(b), ",")
	if !ok {
		return Feedback{}, fmt.Errorf("invalid feedback request %q", b)
	}
	v, err := strconv.Atoi(strings.TrimSpace(num))
	if err != nil {
		return Feedback{}, fmt.Errorf("invalid feedback value %q: %w", num, err)
	}

	f := Feedback{Kind: FeedbackKind(strings.ToLower(strings.TrimSpace(kind))), Value: v}
	switch f.Kind {
	case Vibration:
		if v < VibrateSlight || v > VibrateTriple {
			return Feedback{}, fmt.Errorf("invalid vibration pattern %d", v)
		}
	case Buzzer:
		if v < BuzzDouble || v > BuzzDoubleLong {
			return Feedback{}, fmt.Errorf("invalid buzzer pattern %d", v)
		}
	case VolumeRelative, VolumeAbsolute:
	default:
		return Feedback{}, fmt.Errorf("invalid feedback kind %q", kind)
	}
	return f, nil
}
