// Package fuzzy implements the string similarity scores used to align
// outline labels with detected text: an Indel ratio, its partial
// (best-window) variant, and a token-set ratio. Scores are integers in
// 0..100.
package fuzzy

import (
	"math"
	"math/bits"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Scorer is the similarity metric consumed by the aligner and refiner.
type Scorer interface {
	Partial(a, b string) int
	TokenSet(a, b string) int
}

// Default is the built-in Scorer.
var Default Scorer = indelScorer{}

type indelScorer struct{}

func (indelScorer) Partial(a, b string) int  { return PartialRatio(a, b) }
func (indelScorer) TokenSet(a, b string) int { return TokenSetRatio(a, b) }

// Fold decomposes s, strips combining marks and any remaining non-ASCII
// runes, and lowercases the result.
func Fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	var b strings.Builder
	b.Grow(len(out))
	for _, r := range out {
		if r < 0x80 {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Ratio is the normalized Indel similarity of a and b.
func Ratio(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	return ratioRunes(ra, rb)
}

func ratioRunes(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	return score(lcs(a, b), len(a)+len(b))
}

func score(common, total int) int {
	return int(math.RoundToEven(200 * float64(common) / float64(total)))
}

// PartialRatio aligns the shorter string against every equally sized
// window of the longer one, including the clipped windows at either
// end, and returns the best Ratio.
func PartialRatio(a, b string) int {
	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == 0 {
		return 0
	}
	if strings.Contains(string(long), string(short)) {
		return 100
	}

	m, n := len(short), len(long)
	k := newKernel(short)
	best := 0
	try := func(window []rune) {
		if s := score(k.lcs(window), m+len(window)); s > best {
			best = s
		}
	}
	for i := 1; i < m && best < 100; i++ {
		try(long[:i])
	}
	for i := 0; i+m <= n && best < 100; i++ {
		try(long[i : i+m])
	}
	for i := n - m + 1; i < n && best < 100; i++ {
		if i > 0 {
			try(long[i:])
		}
	}
	return best
}

// TokenSetRatio compares the processed token sets of a and b. When every
// token of one side appears on the other, the score is 100.
func TokenSetRatio(a, b string) int {
	ta, tb := tokenSet(Process(a)), tokenSet(Process(b))
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var inter, onlyA, onlyB []string
	for tok := range ta {
		if tb[tok] {
			inter = append(inter, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range tb {
		if !ta[tok] {
			onlyB = append(onlyB, tok)
		}
	}
	sort.Strings(inter)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	sect := strings.Join(inter, " ")
	combA := strings.TrimSpace(sect + " " + strings.Join(onlyA, " "))
	combB := strings.TrimSpace(sect + " " + strings.Join(onlyB, " "))

	if sect != "" && (len(onlyA) == 0 || len(onlyB) == 0) {
		return 100
	}
	best := Ratio(combA, combB)
	if s := Ratio(sect, combA); s > best {
		best = s
	}
	if s := Ratio(sect, combB); s > best {
		best = s
	}
	return best
}

// Process folds s to lowercase ASCII and replaces every run of
// non-alphanumeric characters with a single space.
func Process(s string) string {
	s = Fold(s)
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		set[tok] = true
	}
	return set
}

// kernel holds the match vectors of a needle for bit-parallel LCS.
type kernel struct {
	needle []rune
	peq    map[rune]uint64
}

func newKernel(needle []rune) *kernel {
	k := &kernel{needle: needle}
	if len(needle) <= 64 {
		k.peq = make(map[rune]uint64, len(needle))
		for i, r := range needle {
			k.peq[r] |= 1 << uint(i)
		}
	}
	return k
}

func (k *kernel) lcs(text []rune) int {
	if k.peq == nil {
		return lcsDP(k.needle, text)
	}
	m := len(k.needle)
	v := ^uint64(0)
	for _, r := range text {
		u := v & k.peq[r]
		v = (v + u) | (v - u)
	}
	mask := ^uint64(0)
	if m < 64 {
		mask = (1 << uint(m)) - 1
	}
	return m - bits.OnesCount64(v&mask)
}

func lcs(a, b []rune) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	return newKernel(a).lcs(b)
}

func lcsDP(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
