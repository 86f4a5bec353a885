package transcribe

import "strings"

const (
	overlapWindowWords         = 20
	overlapSimilarityThreshold = 0.85
)

// RemoveOverlap trims from the start of curr the longest word sequence that
// duplicates the end of prev. Candidate overlaps from window words down to
// one are compared as strings; the first (longest) one whose similarity
// reaches the threshold is dropped. Without a sufficient match curr is
// returned untouched.
func RemoveOverlap(prev, curr string, window int, threshold float64) string {
	prevWords := strings.Fields(prev)
	currWords := strings.Fields(curr)

	tail := prevWords
	if len(tail) > window {
		tail = tail[len(tail)-window:]
	}
	head := currWords
	if len(head) > window {
		head = head[:window]
	}

	max := len(tail)
	if len(head) < max {
		max = len(head)
	}
	for n := max; n > 0; n-- {
		prevSub := strings.Join(tail[len(tail)-n:], " ")
		currSub := strings.Join(head[:n], " ")
		if similarity(prevSub, currSub) >= threshold {
			return strings.TrimLeft(strings.Join(currWords[n:], " "), " ")
		}
	}
	return curr
}

// similarity is the classic sequence-matcher ratio: twice the matched length
// over the combined length, with matches counted as the longest common
// subsequence of bytes.
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	matches := lcsLength(a, b)
	return 2 * float64(matches) / float64(len(a)+len(b))
}

func lcsLength(a, b string) int {
	prev := make([]int, len(b)+1)
	row := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		prev, row = row, prev
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				row[j] = prev[j-1] + 1
			} else if prev[j] >= row[j-1] {
				row[j] = prev[j]
			} else {
				row[j] = row[j-1]
			}
		}
	}
	return row[len(b)]
}
