package store

// A document's version is never stored on its own: it is the length of
// the op log. These helpers are the only place that relationship lives.

func currentVersion(opCount int) int {
	return opCount
}

func nextVersion(opCount int) int {
	return currentVersion(opCount) + 1
}

// accepts reports whether a snapshot at version v may be committed on top
// of a log holding opCount entries.
func accepts(opCount, v int) bool {
	return v == nextVersion(opCount)
}

// clampRange maps a half-open [from, to) request onto a log of length n the
// way a slice expression would, without panicking. A negative to means n.
func clampRange(n, from, to int) (int, int) {
	if to < 0 || to > n {
		to = n
	}
	if from < 0 {
		from = 0
	}
	if from > to {
		from = to
	}
	return from, to
}
