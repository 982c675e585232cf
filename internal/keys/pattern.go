package keys

// whiteNotes lists the natural notes of an octave in keyboard order.
const whiteNotes = "CDEFGAB"

// blackAfter reports whether a black key follows the white key with the
// given note index (0 = C). E and B have no sharp.
func blackAfter(note int) bool {
	switch whiteNotes[note%len(whiteNotes)] {
	case 'E', 'B':
		return false
	default:
		return true
	}
}

// fitOctave finds the note of the leftmost white key that best explains
// which boundaries carry a black key. present[i] is the boundary between
// white keys i and i+1. Ties resolve to the lowest note index.
func fitOctave(present []bool) (phase, score int) {
	score = -1
	for p := 0; p < len(whiteNotes); p++ {
		s := 0
		for i, has := range present {
			if has == blackAfter(p+i) {
				s++
			}
		}
		if s > score {
			phase, score = p, s
		}
	}
	return phase, score
}

// semitoneNotes names each semitone of an octave counted from C; a space
// marks a black key.
const semitoneNotes = "C D EF G A B"

// isBlackSemitone reports whether semitone t (any integer, 0 = C) is a
// black key.
func isBlackSemitone(t int) bool {
	return semitoneNotes[mod(t, 12)] == ' '
}

func mod(a, n int) int {
	return ((a % n) + n) % n
}

// fitSemitones finds the offset that maps the most slots onto black
// semitones. slots are semitone positions relative to the first detected
// black key; slot+phase is the semitone counted from C. Ties resolve to the
// lowest offset.
func fitSemitones(slots []int) (phase, score int) {
	score = -1
	for p := 0; p < 12; p++ {
		s := 0
		for _, t := range slots {
			if isBlackSemitone(t + p) {
				s++
			}
		}
		if s > score {
			phase, score = p, s
		}
	}
	return phase, score
}
