package ranker

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDFDecreasesWithDocFreq(t *testing.T) {
	rare := TermStats{TotalDocs: 1000, DocFreq: 1}.IDF()
	common := TermStats{TotalDocs: 1000, DocFreq: 900}.IDF()
	assert.Greater(t, rare, common)
	assert.Greater(t, common, 0.0)
}

func TestIDFClampsDocFreq(t *testing.T) {
	idf := TermStats{TotalDocs: 2, DocFreq: 5}.IDF()
	assert.False(t, math.IsNaN(idf))
	assert.GreaterOrEqual(t, idf, 0.0)
}

func TestScoreFavoursShortFields(t *testing.T) {
	idf := TermStats{TotalDocs: 10, DocFreq: 2}.IDF()
	short := Score(idf, 1, 5, 10)
	long := Score(idf, 1, 50, 10)
	assert.Greater(t, short, long)
	assert.Zero(t, Score(idf, 1, 5, 0))
}

func TestScoreSaturates(t *testing.T) {
	idf := 1.0
	one := Score(idf, 1, 10, 10)
	ten := Score(idf, 10, 10, 10)
	hundred := Score(idf, 100, 10, 10)
	assert.Greater(t, ten, one)
	assert.Less(t, hundred-ten, ten-one)
	assert.Less(t, hundred, k1+1)
}

func TestSortBreaksTiesByID(t *testing.T) {
	docs := []ScoredDoc{
		{DocID: "b", Score: 1},
		{DocID: "c", Score: 2},
		{DocID: "a", Score: 1},
	}
	Sort(docs)
	assert.Equal(t, []string{"c", "a", "b"}, []string{docs[0].DocID, docs[1].DocID, docs[2].DocID})
}

func TestRound(t *testing.T) {
	assert.Equal(t, 1.2346, Round(1.23456))
}
