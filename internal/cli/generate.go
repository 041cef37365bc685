package cli

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	generateCount       int
	generateConcurrency int
	generateRate        float64
	generateBatch       int
	generateFlush       bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate and index sample blog posts",
	Long: `Generates random blog posts and indexes them through the document API.
With --batch greater than one the posts are sent through the bulk endpoint.
With --rate the requests are throttled to that many per second.`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().IntVar(&generateCount, "count", 1000, "number of posts to generate")
	generateCmd.Flags().IntVar(&generateConcurrency, "concurrency", 8, "number of concurrent requests")
	generateCmd.Flags().Float64Var(&generateRate, "rate", 0, "maximum requests per second, 0 for unlimited")
	generateCmd.Flags().IntVar(&generateBatch, "batch", 1, "posts per request")
	generateCmd.Flags().BoolVar(&generateFlush, "flush", false, "commit the index after generating")
	rootCmd.AddCommand(generateCmd)
}

type blogPost struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Tags     []string       `json:"tags"`
	CreateAt int64          `json:"create_at"`
	Status   string         `json:"status"`
	Features map[string]any `json:"features"`
}

var (
	bodyWords = []string{
		"search", "engine", "index", "query", "segment", "commit", "snapshot",
		"token", "field", "document", "merge", "ranking", "reader", "writer",
		"buffer", "generation", "posting", "analysis", "fast", "concurrent",
	}
	tagPool   = []string{"go", "search", "indexing", "performance", "concurrency", "storage", "json", "ranking"}
	langPool  = []string{"en", "zh", "jp", "fr"}
	alphaNums = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

func newBlogPost(i int, rng *rand.Rand, now time.Time) blogPost {
	body := randomBody(rng, 200+i%200)
	status := "published"
	if i%5 == 0 {
		status = "draft"
	}
	return blogPost{
		ID:       uuid.NewString(),
		Title:    fmt.Sprintf("Post %d about Go and search", i),
		Body:     body,
		Tags:     randomTags(rng, 1+i%4),
		CreateAt: now.Unix(),
		Status:   status,
		Features: map[string]any{
			"lang":   langPool[rng.IntN(len(langPool))],
			"length": len(body),
			"score":  float64(i) * 0.1,
			"random": randomString(rng, 12),
		},
	}
}

func randomBody(rng *rand.Rand, words int) string {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = bodyWords[rng.IntN(len(bodyWords))]
	}
	return strings.Join(parts, " ")
}

func randomTags(rng *rand.Rand, n int) []string {
	perm := rng.Perm(len(tagPool))
	n = min(n, len(tagPool))
	tags := make([]string, 0, n)
	for _, idx := range perm[:n] {
		tags = append(tags, tagPool[idx])
	}
	slices.Sort(tags)
	return tags
}

func randomString(rng *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphaNums[rng.IntN(len(alphaNums))]
	}
	return string(b)
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	if generateCount < 1 {
		return fmt.Errorf("--count must be positive")
	}
	batch := max(generateBatch, 1)
	c := newClient(endpoint, requestTimeout, generateConcurrency)
	ctx := commandContext(cmd)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if generateRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(generateRate), 1)
	}

	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	now := time.Now()
	posts := make([]any, generateCount)
	for i := range posts {
		posts[i] = newBlogPost(i, rng, now)
	}

	var indexed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(generateConcurrency, 1))

	start := time.Now()
	for lo := 0; lo < len(posts); lo += batch {
		chunk := posts[lo:min(lo+batch, len(posts))]
		if err := limiter.Wait(gctx); err != nil {
			break
		}
		g.Go(func() error {
			if len(chunk) == 1 {
				if _, err := c.index(gctx, chunk[0]); err != nil {
					failed.Add(1)
					cmd.PrintErrf("index error: %v\n", err)
					return nil
				}
				indexed.Add(1)
				return nil
			}
			resp, err := c.bulk(gctx, chunk)
			if err != nil {
				failed.Add(int64(len(chunk)))
				cmd.PrintErrf("bulk error: %v\n", err)
				return nil
			}
			indexed.Add(int64(resp.Accepted))
			failed.Add(int64(resp.Failed))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	cmd.Printf("Indexed %d/%d documents in %s (%d failed)\n",
		indexed.Load(), generateCount, elapsed.Round(time.Millisecond), failed.Load())

	if generateFlush {
		outcome, err := c.commit(ctx, "flush")
		if err != nil {
			return fmt.Errorf("flush failed: %w", err)
		}
		cmd.Printf("Committed generation %d (%d documents, %d segments)\n",
			outcome.Generation, outcome.Documents, outcome.Segments)
	}
	if indexed.Load() == 0 {
		return fmt.Errorf("no documents were indexed")
	}
	return nil
}
