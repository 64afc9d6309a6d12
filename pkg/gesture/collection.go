package gesture

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"

	"gonum.org/v1/gonum/num/quat"

	"github.com/gwillem/glove/pkg/imu"
)

// collection is the JSON layout written by the sample collector:
//
//	{"frame_count": 2, "dataset": {"0": {"tag": 1, "Quaternion": {"Thumb": [w, x, y, z], ...}}}}
type collection struct {
	FrameCount int                         `json:"frame_count"`
	Dataset    map[string]collectionSample `json:"dataset"`
}

type collectionSample struct {
	Tag        int                  `json:"tag"`
	Quaternion map[string][]float64 `json:"Quaternion"`
}

// ReadCollection parses a collector file into references ordered by frame
// number. Sensors recorded with an empty array keep the identity pose.
func ReadCollection(r io.Reader) ([]Reference, error) {
	var c collection
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("parse collection: %w", err)
	}

	type frame struct {
		n      int
		sample collectionSample
	}
	frames := make([]frame, 0, len(c.Dataset))
	for key, s := range c.Dataset {
		n, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("frame key %q: not a number", key)
		}
		frames = append(frames, frame{n, s})
	}
	slices.SortFunc(frames, func(a, b frame) int { return a.n - b.n })

	refs := make([]Reference, 0, len(frames))
	for _, f := range frames {
		var set imu.OrientationSet
		for name, q := range f.sample.Quaternion {
			id, err := imu.ParseSensor(name)
			if err != nil {
				return nil, fmt.Errorf("frame %d: %w", f.n, err)
			}
			switch len(q) {
			case 0:
			case 4:
				set.Set(id, quat.Number{Real: q[0], Imag: q[1], Jmag: q[2], Kmag: q[3]})
			default:
				return nil, fmt.Errorf("frame %d: %s has %d components, want 4", f.n, name, len(q))
			}
		}
		refs = append(refs, NewReference(f.sample.Tag, &set))
	}
	return refs, nil
}

// WriteCollection writes refs in the collector layout, so recorded
// references can be inspected or re-imported.
func WriteCollection(w io.Writer, refs []Reference) error {
	c := collection{
		FrameCount: len(refs),
		Dataset:    make(map[string]collectionSample, len(refs)),
	}
	for i, r := range refs {
		qs := make(map[string][]float64, imu.NumSensors)
		for _, id := range imu.AllSensors() {
			q := r.Orientation.Get(id)
			qs[id.String()] = []float64{q.Real, q.Imag, q.Jmag, q.Kmag}
		}
		c.Dataset[strconv.Itoa(i)] = collectionSample{Tag: r.Label, Quaternion: qs}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(c)
}
