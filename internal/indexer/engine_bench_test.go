package indexer

import (
	"context"
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/document"
)

var benchTerms = []string{"distributed", "search", "analytics", "platform", "indexing", "query", "engine", "ranking"}

func benchDoc(i int, prefix string) document.Document {
	return document.Document{
		"id":    document.String(fmt.Sprintf("%s-%d", prefix, i)),
		"title": document.String(fmt.Sprintf("document about %s and %s", benchTerms[i%len(benchTerms)], benchTerms[(i+1)%len(benchTerms)])),
		"body": document.String(fmt.Sprintf("this document covers %s %s %s in production systems",
			benchTerms[i%len(benchTerms)], benchTerms[(i+2)%len(benchTerms)], benchTerms[(i+3)%len(benchTerms)])),
		"tags":      document.Array(document.String(benchTerms[i%len(benchTerms)]), document.String("bench")),
		"create_at": document.Int(int64(i)),
		"status":    document.String("published"),
		"features": document.Object(map[string]document.Value{
			"lang":  document.String("en"),
			"score": document.Float(float64(i) * 0.1),
		}),
	}
}

// loadedEngine holds n documents spread over the given number of segments.
func loadedEngine(b *testing.B, n, segments int) *Engine {
	b.Helper()
	e, err := Open(testConfig(b.TempDir()), nil)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = e.Close() })
	per := max(n/max(segments, 1), 1)
	for i := 0; i < n; i++ {
		if _, err := e.IndexDocument(benchDoc(i, "doc")); err != nil {
			b.Fatal(err)
		}
		if (i+1)%per == 0 {
			if _, err := e.Flush(context.Background()); err != nil {
				b.Fatal(err)
			}
		}
	}
	if _, err := e.Flush(context.Background()); err != nil {
		b.Fatal(err)
	}
	return e
}

func BenchmarkIndexDocument(b *testing.B) {
	for _, preload := range []int{0, 1000, 5000} {
		b.Run(fmt.Sprintf("preload_%d", preload), func(b *testing.B) {
			e := loadedEngine(b, preload, 1)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := e.IndexDocument(benchDoc(i, "bench")); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkFlush(b *testing.B) {
	e := loadedEngine(b, 0, 1)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for d := 0; d < 100; d++ {
			if _, err := e.IndexDocument(benchDoc(i*100+d, "flush")); err != nil {
				b.Fatal(err)
			}
		}
		b.StartTimer()
		if _, err := e.Flush(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSearch(b *testing.B) {
	queries := []struct {
		name  string
		query string
	}{
		{"term", "tags:search"},
		{"default_fields", "search"},
		{"boolean", "+tags:bench -tags:query tags:ranking"},
		{"range", "create_at:[100 TO 2000]"},
		{"nested", "features.lang:en AND features.score:>=10"},
	}
	for _, segments := range []int{1, 8} {
		e := loadedEngine(b, 10000, segments)
		for _, q := range queries {
			b.Run(fmt.Sprintf("segments_%d/%s", segments, q.name), func(b *testing.B) {
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					if _, err := e.Search(context.Background(), q.query, 10, nil); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

func BenchmarkSearchParallel(b *testing.B) {
	e := loadedEngine(b, 10000, 8)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, err := e.Search(context.Background(), "tags:"+benchTerms[i%len(benchTerms)], 10, nil); err != nil {
				b.Fatal(err)
			}
			i++
		}
	})
}

func BenchmarkParse(b *testing.B) {
	e := loadedEngine(b, 0, 1)
	queries := []string{
		"distributed systems",
		"tags:search AND tags:analytics",
		"title:搜索引擎 OR body:ranking",
		"+(go OR rust) -java create_at:[1 TO 100}",
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := e.Parse(queries[i%len(queries)], nil); err != nil {
			b.Fatal(err)
		}
	}
}
