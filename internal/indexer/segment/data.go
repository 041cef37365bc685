package segment

import (
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/document"
)

// Posting records one document's occurrences of a term.
type Posting struct {
	Doc       uint32 `json:"d"`
	Frequency int    `json:"f"`
	Positions []int  `json:"p,omitempty"`
}

// PostingList is sorted by Doc.
type PostingList []Posting

// IntEntry is one value of an Integer64 column.
type IntEntry struct {
	Value int64  `json:"v"`
	Doc   uint32 `json:"d"`
}

// FloatEntry is one numeric value found under a dynamic path.
type FloatEntry struct {
	Value float64 `json:"v"`
	Doc   uint32  `json:"d"`
}

// FieldStats aggregates token counts for one path.
type FieldStats struct {
	Docs   int64
	Tokens int64
}

// Data is the full content of one immutable segment. Document numbers are
// dense and local to the segment.
type Data struct {
	IDs      []string                          `json:"ids"`
	Stored   []map[string]document.Value       `json:"stored"`
	Postings map[string]map[string]PostingList `json:"postings"`
	Lengths  map[string][]uint32               `json:"lengths"`
	Ints     map[string][]IntEntry             `json:"ints,omitempty"`
	Floats   map[string][]FloatEntry           `json:"floats,omitempty"`

	idIndex map[string]uint32
	stats   map[string]FieldStats
}

func newData() *Data {
	return &Data{
		Postings: make(map[string]map[string]PostingList),
		Lengths:  make(map[string][]uint32),
		Ints:     make(map[string][]IntEntry),
		Floats:   make(map[string][]FloatEntry),
	}
}

// Build lays out docs as a segment in the given order.
func Build(docs []*document.EncodedDocument) *Data {
	d := newData()
	n := len(docs)
	for i, doc := range docs {
		docNum := uint32(i)
		d.IDs = append(d.IDs, doc.ID)
		d.Stored = append(d.Stored, doc.Stored)
		for _, e := range doc.Entries {
			switch e.Leaf {
			case document.LeafTerm:
				d.addOccurrence(e.Path, e.Term, docNum, e.Position)
				lengths, ok := d.Lengths[e.Path]
				if !ok {
					lengths = make([]uint32, n)
					d.Lengths[e.Path] = lengths
				}
				lengths[docNum]++
			case document.LeafInt:
				d.Ints[e.Path] = append(d.Ints[e.Path], IntEntry{Value: e.Int, Doc: docNum})
			case document.LeafFloat:
				d.Floats[e.Path] = append(d.Floats[e.Path], FloatEntry{Value: e.Float, Doc: docNum})
			}
		}
	}
	d.sortColumns()
	d.index()
	return d
}

func (d *Data) addOccurrence(path, term string, doc uint32, pos int) {
	terms, ok := d.Postings[path]
	if !ok {
		terms = make(map[string]PostingList)
		d.Postings[path] = terms
	}
	list := terms[term]
	if n := len(list); n > 0 && list[n-1].Doc == doc {
		list[n-1].Frequency++
		list[n-1].Positions = append(list[n-1].Positions, pos)
		return
	}
	terms[term] = append(list, Posting{Doc: doc, Frequency: 1, Positions: []int{pos}})
}

func (d *Data) sortColumns() {
	for _, col := range d.Ints {
		sort.Slice(col, func(i, j int) bool {
			if col[i].Value != col[j].Value {
				return col[i].Value < col[j].Value
			}
			return col[i].Doc < col[j].Doc
		})
	}
	for _, col := range d.Floats {
		sort.Slice(col, func(i, j int) bool {
			if col[i].Value != col[j].Value {
				return col[i].Value < col[j].Value
			}
			return col[i].Doc < col[j].Doc
		})
	}
}

// index builds the lookup structures that are not persisted.
func (d *Data) index() {
	d.idIndex = make(map[string]uint32, len(d.IDs))
	for i, id := range d.IDs {
		d.idIndex[id] = uint32(i)
	}
	d.stats = make(map[string]FieldStats, len(d.Lengths))
	for path, lengths := range d.Lengths {
		var st FieldStats
		for _, l := range lengths {
			if l > 0 {
				st.Docs++
				st.Tokens += int64(l)
			}
		}
		d.stats[path] = st
	}
}

// NumDocs is the number of documents, deleted or not.
func (d *Data) NumDocs() int {
	return len(d.IDs)
}

func (d *Data) DocID(doc uint32) string {
	return d.IDs[doc]
}

// Lookup finds the document number for an external identifier.
func (d *Data) Lookup(id string) (uint32, bool) {
	doc, ok := d.idIndex[id]
	return doc, ok
}

func (d *Data) StoredFields(doc uint32) map[string]document.Value {
	return d.Stored[doc]
}

func (d *Data) TermPostings(path, term string) PostingList {
	return d.Postings[path][term]
}

// HasPath reports whether any document indexed text, ints or numbers
// under path.
func (d *Data) HasPath(path string) bool {
	if _, ok := d.Postings[path]; ok {
		return true
	}
	if _, ok := d.Ints[path]; ok {
		return true
	}
	_, ok := d.Floats[path]
	return ok
}

func (d *Data) FieldLength(path string, doc uint32) uint32 {
	lengths := d.Lengths[path]
	if int(doc) >= len(lengths) {
		return 0
	}
	return lengths[doc]
}

func (d *Data) FieldStats(path string) FieldStats {
	return d.stats[path]
}

// Range bounds a numeric match. Unbounded ends use -Inf/+Inf.
type Range struct {
	Lo, Hi                   float64
	LoInclusive, HiInclusive bool
}

// Exact returns a range matching a single value.
func Exact(v float64) Range {
	return Range{Lo: v, Hi: v, LoInclusive: true, HiInclusive: true}
}

// Unbounded returns a range matching every value.
func Unbounded() Range {
	return Range{Lo: math.Inf(-1), Hi: math.Inf(1), LoInclusive: true, HiInclusive: true}
}

func (r Range) Contains(v float64) bool {
	if v < r.Lo || (v == r.Lo && !r.LoInclusive) {
		return false
	}
	if v > r.Hi || (v == r.Hi && !r.HiInclusive) {
		return false
	}
	return true
}

// NumericRange returns the documents holding a value within r under path,
// from either the integer or the float column.
func (d *Data) NumericRange(path string, r Range) *roaring.Bitmap {
	out := roaring.New()
	if col, ok := d.Ints[path]; ok {
		start := sort.Search(len(col), func(i int) bool { return float64(col[i].Value) >= r.Lo })
		for _, e := range col[start:] {
			v := float64(e.Value)
			if v > r.Hi {
				break
			}
			if r.Contains(v) {
				out.Add(e.Doc)
			}
		}
	}
	if col, ok := d.Floats[path]; ok {
		start := sort.Search(len(col), func(i int) bool { return col[i].Value >= r.Lo })
		for _, e := range col[start:] {
			if e.Value > r.Hi {
				break
			}
			if r.Contains(e.Value) {
				out.Add(e.Doc)
			}
		}
	}
	return out
}

// Source is one input to a merge: a segment's data and the documents to drop.
type Source struct {
	Data    *Data
	Deleted *roaring.Bitmap
}

// Merge concatenates the live documents of sources, in order, into a new
// segment.
func Merge(sources []Source) *Data {
	out := newData()
	type remap struct {
		src     Source
		mapping []int64
	}
	remaps := make([]remap, 0, len(sources))
	for _, src := range sources {
		mapping := make([]int64, src.Data.NumDocs())
		for doc := range mapping {
			if src.Deleted != nil && src.Deleted.Contains(uint32(doc)) {
				mapping[doc] = -1
				continue
			}
			mapping[doc] = int64(len(out.IDs))
			out.IDs = append(out.IDs, src.Data.IDs[doc])
			out.Stored = append(out.Stored, src.Data.Stored[doc])
		}
		remaps = append(remaps, remap{src: src, mapping: mapping})
	}

	n := len(out.IDs)
	for _, rm := range remaps {
		for path, terms := range rm.src.Data.Postings {
			dst, ok := out.Postings[path]
			if !ok {
				dst = make(map[string]PostingList)
				out.Postings[path] = dst
			}
			for term, list := range terms {
				for _, p := range list {
					if nd := rm.mapping[p.Doc]; nd >= 0 {
						p.Doc = uint32(nd)
						dst[term] = append(dst[term], p)
					}
				}
			}
		}
		for path, lengths := range rm.src.Data.Lengths {
			dst, ok := out.Lengths[path]
			if !ok {
				dst = make([]uint32, n)
				out.Lengths[path] = dst
			}
			for doc, l := range lengths {
				if nd := rm.mapping[doc]; nd >= 0 {
					dst[nd] = l
				}
			}
		}
		for path, col := range rm.src.Data.Ints {
			for _, e := range col {
				if nd := rm.mapping[e.Doc]; nd >= 0 {
					out.Ints[path] = append(out.Ints[path], IntEntry{Value: e.Value, Doc: uint32(nd)})
				}
			}
		}
		for path, col := range rm.src.Data.Floats {
			for _, e := range col {
				if nd := rm.mapping[e.Doc]; nd >= 0 {
					out.Floats[path] = append(out.Floats[path], FloatEntry{Value: e.Value, Doc: uint32(nd)})
				}
			}
		}
	}
	for path, terms := range out.Postings {
		for term, list := range terms {
			if len(list) == 0 {
				delete(terms, term)
			}
		}
		if len(terms) == 0 {
			delete(out.Postings, path)
		}
	}
	out.sortColumns()
	out.index()
	return out
}

// TermCount is the number of distinct (path, term) pairs.
func (d *Data) TermCount() int {
	total := 0
	for _, terms := range d.Postings {
		total += len(terms)
	}
	return total
}
