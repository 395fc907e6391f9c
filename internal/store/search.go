package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mnemosyne/mnemosyne/internal/types"
)

// KeywordSearch ranks notes visible from ns by a BM25-like score over
// content, summary, keywords, and tags (spec.md §4.1 "keyword_search").
func (s *Store) KeywordSearch(ctx context.Context, query string, ns *types.Namespace) ([]types.ScoredMemory, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	candidates, err := s.keywordCandidates(ns, terms)
	if err != nil {
		return nil, err
	}

	avgLen := averageDocLength(candidates)
	scored := make([]types.ScoredMemory, 0, len(candidates))
	for _, note := range candidates {
		score := bm25Score(note, terms, avgLen, len(candidates))
		if score > 0 {
			scored = append(scored, types.ScoredMemory{Memory: note, Score: score})
		}
	}

	sortScored(scored)
	return scored, nil
}

func (s *Store) keywordCandidates(ns *types.Namespace, terms []string) ([]*types.MemoryNote, error) {
	query := noteSelectColumns() + " FROM memories WHERE is_archived = 0"
	args := []interface{}{}
	query, args = appendNamespaceFilter(query, args, ns)

	likeClauses := make([]string, 0, len(terms))
	for _, t := range terms {
		likeClauses = append(likeClauses, "(content LIKE ? OR summary LIKE ? OR keywords LIKE ? OR tags LIKE ?)")
		pattern := "%" + t + "%"
		args = append(args, pattern, pattern, pattern, pattern)
	}
	if len(likeClauses) > 0 {
		query += " AND (" + strings.Join(likeClauses, " OR ") + ")"
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	defer rows.Close()

	var notes []*types.MemoryNote
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	seen := map[string]bool{}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func docText(note *types.MemoryNote) string {
	return strings.ToLower(strings.Join([]string{
		note.Content, note.Summary,
		strings.Join(note.Keywords, " "), strings.Join(note.Tags, " "),
	}, " "))
}

func averageDocLength(notes []*types.MemoryNote) float64 {
	if len(notes) == 0 {
		return 1
	}
	total := 0
	for _, n := range notes {
		total += len(tokenize(docText(n)))
	}
	return float64(total) / float64(len(notes))
}

// bm25Score computes a BM25-like score (k1=1.5, b=0.75) treating the
// candidate set as the corpus for IDF purposes — a reasonable
// approximation given the Memory Store has no separate inverted index.
func bm25Score(note *types.MemoryNote, terms []string, avgLen float64, corpusSize int) float64 {
	const k1, b = 1.5, 0.75
	text := docText(note)
	docTokens := tokenize(text)
	docLen := float64(len(docTokens))
	if docLen == 0 {
		return 0
	}

	counts := map[string]int{}
	for _, tok := range docTokens {
		counts[tok]++
	}

	var score float64
	for _, term := range terms {
		tf := float64(counts[term])
		if tf == 0 {
			continue
		}
		idf := math.Log(1 + (float64(corpusSize)+0.5)/(0.5+1))
		numerator := tf * (k1 + 1)
		denominator := tf + k1*(1-b+b*(docLen/avgLen))
		score += idf * numerator / denominator
	}
	return score
}

// VectorSearch returns the top-k notes by cosine similarity to the given
// embedding (spec.md §4.1 "vector_search").
func (s *Store) VectorSearch(ctx context.Context, embedding []float32, k int, ns *types.Namespace) ([]types.ScoredMemory, error) {
	query := noteSelectColumns() + " FROM memories WHERE is_archived = 0 AND embedding IS NOT NULL"
	args := []interface{}{}
	query, args = appendNamespaceFilter(query, args, ns)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var scored []types.ScoredMemory
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		if len(note.Embedding) == 0 {
			continue
		}
		sim := cosineSimilarity(embedding, note.Embedding)
		scored = append(scored, types.ScoredMemory{Memory: note, Score: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortScored(scored)
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// HybridSearch merges keyword (weight 0.4) and vector (weight 0.3) legs
// by id, optionally expanding into linked neighbors at depth 1
// (weight 0.3 × best_seed_score × link.strength), per spec.md §4.1
// "hybrid_search". The two legs run concurrently via errgroup since
// they are independent read-only queries.
func (s *Store) HybridSearch(ctx context.Context, query string, ns *types.Namespace, k int, expandGraph bool) ([]types.ScoredMemory, error) {
	var keywordResults, vectorResults []types.ScoredMemory

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := s.KeywordSearch(gctx, query, ns)
		keywordResults = r
		return err
	})
	if s.embed != nil {
		g.Go(func() error {
			embedding, err := s.embed.Embed(gctx, query)
			if err != nil {
				return nil // embedding unavailable: vector leg simply contributes nothing
			}
			r, err := s.VectorSearch(gctx, embedding, 0, ns)
			vectorResults = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := map[string]*types.ScoredMemory{}
	kw := s.cfg.HybridWeights.Keyword
	vw := s.cfg.HybridWeights.Vector
	gw := s.cfg.HybridWeights.Graph

	for _, r := range keywordResults {
		merged[r.Memory.ID] = &types.ScoredMemory{Memory: r.Memory, Score: kw * r.Score}
	}
	for _, r := range vectorResults {
		if existing, ok := merged[r.Memory.ID]; ok {
			existing.Score += vw * r.Score
		} else {
			merged[r.Memory.ID] = &types.ScoredMemory{Memory: r.Memory, Score: vw * r.Score}
		}
	}

	if expandGraph && len(merged) > 0 {
		bestScore := 0.0
		seeds := make([]string, 0, len(merged))
		for id, sm := range merged {
			seeds = append(seeds, id)
			if sm.Score > bestScore {
				bestScore = sm.Score
			}
		}
		for _, seedID := range seeds {
			links, err := s.loadLinks(seedID)
			if err != nil {
				continue
			}
			for _, link := range links {
				if _, already := merged[link.TargetID]; already {
					continue
				}
				neighbor, err := s.GetNote(ctx, link.TargetID, true)
				if err != nil {
					continue
				}
				if ns != nil && !ns.Visible(neighbor.Namespace) {
					continue
				}
				s.TouchLinkTraversal(seedID, link.TargetID, link.Type)
				merged[link.TargetID] = &types.ScoredMemory{
					Memory: neighbor,
					Score:  gw * bestScore * link.Strength,
				}
			}
		}
	}

	out := make([]types.ScoredMemory, 0, len(merged))
	for _, sm := range merged {
		out = append(out, *sm)
	}
	sortScored(out)
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// GraphTraverse performs a breadth-first walk over links from the given
// seed ids, bounded by depth and by a hard node cap (spec.md §4.1
// "graph_traverse").
func (s *Store) GraphTraverse(ctx context.Context, seeds []string, depth int, ns *types.Namespace) ([]*types.MemoryNote, error) {
	cap := s.cfg.GraphTraversalCap
	if cap <= 0 {
		cap = 256
	}

	visited := map[string]bool{}
	var frontier []string
	for _, seed := range seeds {
		if !visited[seed] {
			visited[seed] = true
			frontier = append(frontier, seed)
		}
	}

	var results []*types.MemoryNote
	for d := 0; d <= depth && len(frontier) > 0 && len(results) < cap; d++ {
		var next []string
		for _, id := range frontier {
			note, err := s.GetNote(ctx, id, true)
			if err != nil {
				continue
			}
			if ns != nil && !ns.Visible(note.Namespace) {
				continue
			}
			results = append(results, note)
			if len(results) >= cap {
				break
			}
			for _, link := range note.Links {
				s.TouchLinkTraversal(id, link.TargetID, link.Type)
				if !visited[link.TargetID] {
					visited[link.TargetID] = true
					next = append(next, link.TargetID)
				}
			}
		}
		frontier = next
	}
	return results, nil
}

// sortScored applies spec.md §4.1's tie-break rule: importance DESC,
// updated_at DESC, id ASC.
func sortScored(scored []types.ScoredMemory) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Memory.Importance != scored[j].Memory.Importance {
			return scored[i].Memory.Importance > scored[j].Memory.Importance
		}
		if !scored[i].Memory.UpdatedAt.Equal(scored[j].Memory.UpdatedAt) {
			return scored[i].Memory.UpdatedAt.After(scored[j].Memory.UpdatedAt)
		}
		return scored[i].Memory.ID < scored[j].Memory.ID
	})
}
