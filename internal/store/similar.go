package store

import (
	"context"
	"errors"
	"fmt"

	"photosort/internal/imaging"
	"photosort/internal/logging"
	"photosort/internal/vecmath"
)

// ErrNoEmbedding means the photo was classified without an embedding.
var ErrNoEmbedding = errors.New("photo has no embedding")

// Match is a photo ranked by cosine distance to a query photo.
type Match struct {
	Photo    *Photo
	Distance float64
}

// Similar returns up to k photos closest to id by embedding, nearest first.
func (s *Store) Similar(ctx context.Context, id string, k int) ([]Match, error) {
	target, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(target.Embedding) == 0 {
		return nil, ErrNoEmbedding
	}
	if k <= 0 {
		k = 10
	}

	if s.vecSQL {
		out, err := s.similarSQL(ctx, target, k)
		if err == nil {
			return out, nil
		}
		logging.StoreDebug("sql similarity failed, falling back to Go: %v", err)
	}
	return s.similarGo(ctx, target, k)
}

func (s *Store) similarSQL(ctx context.Context, target *Photo, k int) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, d FROM (
			SELECT id, vec_distance_cosine(embedding, ?) AS d FROM photos
			WHERE id != ? AND embedding IS NOT NULL AND length(embedding) = ?
		) WHERE d IS NOT NULL ORDER BY d ASC, id ASC LIMIT ?`,
		encodeEmbedding(target.Embedding), target.ID, 4*len(target.Embedding), k)
	if err != nil {
		return nil, fmt.Errorf("similarity query failed: %w", err)
	}

	type hit struct {
		id string
		d  float64
	}
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.id, &h.d); err != nil {
			rows.Close()
			return nil, err
		}
		hits = append(hits, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(hits))
	for _, h := range hits {
		p, err := s.Get(ctx, h.id)
		if err != nil {
			return nil, err
		}
		out = append(out, Match{Photo: p, Distance: h.d})
	}
	return out, nil
}

func (s *Store) similarGo(ctx context.Context, target *Photo, k int) ([]Match, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []*Photo
	var corpus [][]float32
	for _, p := range all {
		if p.ID == target.ID || len(p.Embedding) != len(target.Embedding) {
			continue
		}
		candidates = append(candidates, p)
		corpus = append(corpus, p.Embedding)
	}

	ranked := vecmath.TopK(target.Embedding, corpus, k)
	out := make([]Match, 0, len(ranked))
	for _, m := range ranked {
		out = append(out, Match{Photo: candidates[m.Index], Distance: 1 - float64(m.Similarity)})
	}
	return out, nil
}

// Duplicates groups photos whose perceptual fingerprints are within
// maxDistance bits of each other. Groups hold at least two photos and are
// ordered by their first member's creation time, newest first.
func (s *Store) Duplicates(ctx context.Context, maxDistance int) ([][]*Photo, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var photos []*Photo
	for _, p := range all {
		if p.Fingerprint != "" {
			photos = append(photos, p)
		}
	}

	parent := make([]int, len(photos))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	for i := 0; i < len(photos); i++ {
		for j := i + 1; j < len(photos); j++ {
			d, err := imaging.HashDistance(photos[i].Fingerprint, photos[j].Fingerprint)
			if err != nil {
				logging.StoreDebug("skipping fingerprint pair %s/%s: %v", photos[i].ID, photos[j].ID, err)
				continue
			}
			if d <= maxDistance {
				if ri, rj := find(i), find(j); ri != rj {
					parent[rj] = ri
				}
			}
		}
	}

	groups := make(map[int][]*Photo)
	var roots []int
	for i, p := range photos {
		r := find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], p)
	}

	var out [][]*Photo
	for _, r := range roots {
		if len(groups[r]) > 1 {
			out = append(out, groups[r])
		}
	}
	return out, nil
}
