package grading

import (
	"math"
	"strings"
)

// tokenize lower-cases and splits on whitespace.
func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// tokenSet returns the distinct lower-cased whitespace tokens of s.
func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range tokenize(s) {
		set[t] = struct{}{}
	}
	return set
}

// LexicalSimilarity is the cosine similarity of TF-IDF vectors built only
// from the two texts being compared. The vocabulary is local to the pair, so
// scores are self-contained and not comparable across pairs. IDF is smoothed
// (ln((1+N)/(1+df)) + 1) so terms shared by both documents keep a nonzero
// weight instead of vanishing.
func LexicalSimilarity(a, b string) float64 {
	tokensA := tokenize(a)
	tokensB := tokenize(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0.0
	}

	tfA := termCounts(tokensA)
	tfB := termCounts(tokensB)

	vocab := make(map[string]struct{}, len(tfA)+len(tfB))
	for t := range tfA {
		vocab[t] = struct{}{}
	}
	for t := range tfB {
		vocab[t] = struct{}{}
	}

	const nDocs = 2.0
	dot, normA, normB := 0.0, 0.0, 0.0
	for term := range vocab {
		df := 0.0
		if tfA[term] > 0 {
			df++
		}
		if tfB[term] > 0 {
			df++
		}
		idf := math.Log((1+nDocs)/(1+df)) + 1

		wA := float64(tfA[term]) * idf
		wB := float64(tfB[term]) * idf
		dot += wA * wB
		normA += wA * wA
		normB += wB * wB
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func termCounts(tokens []string) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	return counts
}

// Jaccard is token-set intersection over union. Tokens are lower-cased,
// matching the scorer's tokenization.
func Jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)

	union := len(setB)
	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0.0
	}
	return float64(inter) / float64(union)
}

// Dot is the inner product of two embedding vectors. For unit vectors this
// is the cosine similarity.
func Dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
