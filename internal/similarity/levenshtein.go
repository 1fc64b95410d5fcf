package similarity

// Levenshtein computes edit distances between strings while reusing a single
// scratch matrix across calls. The matrix is grown to the largest string pair
// seen so far and never shrunk, which keeps batch scans over thousands of
// candidates allocation-free after warmup.
//
// A Levenshtein value is not safe for concurrent use; each scan owns one or
// serializes access externally.
type Levenshtein struct {
	// scratch[i][j] holds the distance between the first i runes of the
	// longer string and the first j runes of the shorter one.
	scratch [][]int
}

// NewLevenshtein returns a scorer with an empty scratch buffer.
func NewLevenshtein() *Levenshtein {
	return &Levenshtein{}
}

// Distance returns the minimum number of single-rune insertions, deletions,
// and substitutions required to transform a into b.
func (l *Levenshtein) Distance(a, b string) int {
	if a == b {
		return 0
	}

	ra := []rune(a)
	rb := []rune(b)

	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	// Iterate with the shorter string as the inner dimension so the scratch
	// rows stay as small as possible.
	longer, shorter := ra, rb
	if len(rb) > len(ra) {
		longer, shorter = rb, ra
	}

	l.grow(len(longer)+1, len(shorter)+1)
	m := l.scratch

	for j := 0; j <= len(shorter); j++ {
		m[0][j] = j
	}
	for i := 1; i <= len(longer); i++ {
		m[i][0] = i
		for j := 1; j <= len(shorter); j++ {
			cost := 1
			if longer[i-1] == shorter[j-1] {
				cost = 0
			}
			deletion := m[i-1][j] + 1
			insertion := m[i][j-1] + 1
			substitution := m[i-1][j-1] + cost

			best := deletion
			if insertion < best {
				best = insertion
			}
			if substitution < best {
				best = substitution
			}
			m[i][j] = best
		}
	}

	return m[len(longer)][len(shorter)]
}

// grow ensures the scratch matrix has at least rows x cols cells.
func (l *Levenshtein) grow(rows, cols int) {
	if len(l.scratch) >= rows && len(l.scratch) > 0 && len(l.scratch[0]) >= cols {
		return
	}
	if len(l.scratch) > 0 && len(l.scratch[0]) > cols {
		cols = len(l.scratch[0])
	}
	if len(l.scratch) > rows {
		rows = len(l.scratch)
	}
	l.scratch = make([][]int, rows)
	for i := range l.scratch {
		l.scratch[i] = make([]int, cols)
	}
}
