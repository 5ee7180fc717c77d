package cursor

import "bytes"

// Bound is one side of a range scan: a key and which of CmpGE/CmpGT (for
// the lower bound) or CmpLT/CmpLE (for the upper bound) it represents.
type Bound struct {
	Key []byte
	Op  CompareOp
}

// RangeCursor wraps a Cursor with the two-sided bound check the teacher's
// Scanner.Valid does, generalized to either bound being open (nil Key).
type RangeCursor struct {
	*Cursor
	Lower, Upper Bound
}

// NewRange returns a cursor bounded by lo/hi. It is not positioned until
// Seek is called.
func NewRange(c *Cursor, lo, hi Bound) *RangeCursor {
	return &RangeCursor{Cursor: c, Lower: lo, Upper: hi}
}

// Seek positions at the first key satisfying the lower bound, then
// verifies it also satisfies the upper bound.
func (r *RangeCursor) Seek() (bool, error) {
	key := r.Lower.Key
	if key == nil {
		key = []byte{}
	}
	if _, err := r.Cursor.SearchNear(key); err != nil && r.Cursor.state != Positioned {
		return false, nil
	}
	if r.Lower.Op == CmpGT && r.Cursor.state == Positioned && bytes.Equal(r.Cursor.Key(), r.Lower.Key) {
		if err := r.Cursor.Next(); err != nil {
			return false, err
		}
	}
	return r.inBounds(), nil
}

// Valid reports whether the cursor's current position satisfies both
// bounds, mirroring the teacher's Scanner.Valid two-sided range check.
func (r *RangeCursor) Valid() bool {
	if r.Cursor.state != Positioned {
		return false
	}
	return r.inBounds()
}

func (r *RangeCursor) inBounds() bool {
	if r.Cursor.state != Positioned {
		return false
	}
	k := r.Cursor.Key()
	if r.Lower.Key != nil {
		cmp := bytes.Compare(k, r.Lower.Key)
		switch r.Lower.Op {
		case CmpGE:
			if cmp < 0 {
				return false
			}
		case CmpGT:
			if cmp <= 0 {
				return false
			}
		}
	}
	if r.Upper.Key != nil {
		cmp := bytes.Compare(k, r.Upper.Key)
		switch r.Upper.Op {
		case CmpLE:
			if cmp > 0 {
				return false
			}
		case CmpLT:
			if cmp >= 0 {
				return false
			}
		}
	}
	return true
}
