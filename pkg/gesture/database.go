package gesture

import (
	"github.com/gwillem/glove/pkg/imu"
)

// Reference is a labelled example pose.
type Reference struct {
	Label       int
	Orientation imu.OrientationSet

	features []float64
}

// NewReference builds a reference from a pose.
func NewReference(label int, set *imu.OrientationSet) Reference {
	r := Reference{Label: label, Orientation: *set}
	r.features = Features(set)
	return r
}

// Features returns the reference's precomputed feature vector.
func (r Reference) Features() []float64 {
	return r.features
}

// Database is an immutable, ordered list of references.
type Database struct {
	refs []Reference
}

// NewDatabase returns a database holding refs in the given order.
func NewDatabase(refs ...Reference) *Database {
	db := &Database{refs: make([]Reference, len(refs))}
	for i, r := range refs {
		if r.features == nil {
			r.features = Features(&r.Orientation)
		}
		db.refs[i] = r
	}
	return db
}

// Len returns the number of references.
func (d *Database) Len() int {
	return len(d.refs)
}

// References returns a copy of the references in database order.
func (d *Database) References() []Reference {
	return append([]Reference(nil), d.refs...)
}

// Labels returns the distinct labels in order of first appearance.
func (d *Database) Labels() []int {
	seen := make(map[int]bool)
	var labels []int
	for _, r := range d.refs {
		if !seen[r.Label] {
			seen[r.Label] = true
			labels = append(labels, r.Label)
		}
	}
	return labels
}
