// Package ranker scores matches with BM25.
package ranker

import (
	"math"
	"sort"
)

const (
	k1 = 1.2
	b  = 0.75
)

// ScoredDoc is one ranked match. Segment and Doc locate it inside the
// snapshot it came from.
type ScoredDoc struct {
	DocID   string  `json:"doc_id"`
	Score   float64 `json:"score"`
	Segment int     `json:"-"`
	Doc     uint32  `json:"-"`
}

// TermStats are the snapshot-wide statistics for one (path, term) pair.
type TermStats struct {
	TotalDocs    int64
	DocFreq      int64
	AvgDocLength float64
}

// IDF returns the inverse document frequency for s.
func (s TermStats) IDF() float64 {
	return computeIDF(s.TotalDocs, s.DocFreq)
}

// Score is the BM25 contribution of one term occurring termFreq times in a
// field of docLength tokens.
func Score(idf float64, termFreq int, docLength uint32, avgDocLength float64) float64 {
	return idf * computeTFNorm(float64(termFreq), float64(docLength), avgDocLength)
}

// Round trims a score to four decimals for display. Ranking uses the
// unrounded score.
func Round(score float64) float64 {
	return math.Round(score*10000) / 10000
}

// Less orders a before b: higher score first, then lower identifier.
func Less(a, b ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// Sort orders docs by Less.
func Sort(docs []ScoredDoc) {
	sort.Slice(docs, func(i, j int) bool { return Less(docs[i], docs[j]) })
}

func computeIDF(totalDocs int64, docFreq int64) float64 {
	if docFreq > totalDocs {
		docFreq = totalDocs
	}
	numerator := float64(totalDocs) - float64(docFreq)
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func computeTFNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}
