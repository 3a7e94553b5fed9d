package similarity

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Candidate is a previously classified ticket with a usable embedding.
type Candidate struct {
	TicketID int64
	Category string
	Vector   []float32
}

type Match struct {
	Candidate Candidate
	Score     float64
}

// Cosine returns the cosine similarity of a and b. Mismatched lengths and
// zero-norm vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return Cosine64(Float64s(a), Float64s(b))
}

// Cosine64 is Cosine over float64 vectors.
func Cosine64(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	normA, normB := floats.Norm(a, 2), floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}
	return floats.Dot(a, b) / (normA * normB)
}

// Float64s widens an embedding for the float64 kernels.
func Float64s(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// MostSimilar returns the k candidates closest to query by cosine similarity,
// best first. Equal scores keep the candidates' input order.
func MostSimilar(query []float32, candidates []Candidate, k int) []Match {
	if k <= 0 || len(candidates) == 0 {
		return []Match{}
	}

	q := Float64s(query)
	matches := make([]Match, len(candidates))
	for i, c := range candidates {
		score := 0.0
		if len(c.Vector) == len(q) {
			score = Cosine64(q, Float64s(c.Vector))
		}
		matches[i] = Match{Candidate: c, Score: score}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if k < len(matches) {
		matches = matches[:k]
	}
	return matches
}

// Shortlist keeps the matches scoring at least threshold.
func Shortlist(matches []Match, threshold float64) []Match {
	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		if m.Score >= threshold {
			out = append(out, m)
		}
	}
	return out
}
