package replicate

// seenSet is a run-scoped identity filter. Some listing endpoints return
// overlapping pages, so both emission and child-expansion work are guarded by
// the parent id having been processed already. Never persisted.
type seenSet map[int64]struct{}

func newSeenSet() seenSet {
	return make(seenSet)
}

// add records an id and reports whether it was new.
func (s seenSet) add(id int64) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}
