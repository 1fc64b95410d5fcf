package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want int
	}{
		{name: "identical", a: "kitten", b: "kitten", want: 0},
		{name: "both empty", a: "", b: "", want: 0},
		{name: "empty to word", a: "", b: "abc", want: 3},
		{name: "word to empty", a: "abc", b: "", want: 3},
		{name: "classic kitten sitting", a: "kitten", b: "sitting", want: 3},
		{name: "single substitution", a: "flaw", b: "flak", want: 1},
		{name: "single insertion", a: "cat", b: "cats", want: 1},
		{name: "completely different", a: "abc", b: "xyz", want: 3},
		{name: "multibyte runes", a: "día", b: "dia", want: 1},
	}

	lev := NewLevenshtein()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lev.Distance(tt.a, tt.b))
		})
	}
}

func TestLevenshteinSymmetric(t *testing.T) {
	lev := NewLevenshtein()
	pairs := [][2]string{
		{"kitten", "sitting"},
		{"saturday", "sunday"},
		{"", "abc"},
		{"short", "a much longer string"},
	}
	for _, p := range pairs {
		assert.Equal(t, lev.Distance(p[0], p[1]), lev.Distance(p[1], p[0]), "pair %q %q", p[0], p[1])
	}
}

func TestLevenshteinTriangleInequality(t *testing.T) {
	lev := NewLevenshtein()
	words := []string{"", "cat", "cart", "chart", "smart", "kitten", "sitting"}
	for _, a := range words {
		for _, b := range words {
			for _, c := range words {
				ab := lev.Distance(a, b)
				bc := lev.Distance(b, c)
				ac := lev.Distance(a, c)
				assert.LessOrEqual(t, ac, ab+bc, "d(%q,%q) > d(%q,%q)+d(%q,%q)", a, c, a, b, b, c)
			}
		}
	}
}

// The scratch buffer grows with the largest pair seen and stays correct when
// later calls use smaller strings.
func TestLevenshteinScratchReuse(t *testing.T) {
	lev := NewLevenshtein()

	assert.Equal(t, 3, lev.Distance("kitten", "sitting"))
	assert.Equal(t, 20, lev.Distance("", "aaaaaaaaaaaaaaaaaaaa"))
	assert.Equal(t, 3, lev.Distance("kitten", "sitting"))
	assert.Equal(t, 1, lev.Distance("a", "b"))
}
