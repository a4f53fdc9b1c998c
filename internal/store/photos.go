package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"photosort/internal/taxonomy"
)

// Export outcomes stored in export_status.
const (
	ExportSuccess = "success"
	ExportError   = "error"
)

// Photo is one classification outcome.
type Photo struct {
	ID            string
	Path          string // export path on success, source path on failure
	FileName      string
	Category      taxonomy.CategoryKey
	TopScore      float32
	Scores        taxonomy.Scores
	Tags          []string
	Caption       string
	TextInImage   string
	Model         string
	Valuable      *bool
	ValuableScore *float32
	ExportStatus  string
	ErrorMessage  string
	AnalysisLog   string
	DurationMS    int64
	Embedding     []float32
	Fingerprint   string
	CreatedAt     time.Time
}

// ValueStats counts photos by keep judgement.
type ValueStats struct {
	Valuable    int `json:"valuable"`
	NotValuable int `json:"not_valuable"`
	Unknown     int `json:"unknown"`
}

// DistributionMode selects how Distribution aggregates.
type DistributionMode string

const (
	// ModeAvgScore averages each category's score over all rows.
	ModeAvgScore DistributionMode = "avg_score"
	// ModeCountRatio is the share of rows whose top category is k.
	ModeCountRatio DistributionMode = "count_ratio"
)

// ParseDistributionMode accepts "avg_score" and "count_ratio".
func ParseDistributionMode(s string) (DistributionMode, error) {
	switch DistributionMode(s) {
	case ModeAvgScore, ModeCountRatio:
		return DistributionMode(s), nil
	}
	return "", fmt.Errorf("unknown distribution mode %q (use %s or %s)", s, ModeAvgScore, ModeCountRatio)
}

const photoColumns = `id, path, file_name, category, top_score, scores, tags, caption, text_in_image, model,
	is_valuable, valuable_score, export_status, error_message, analysis_log, analysis_duration_ms,
	embedding, fingerprint, created_at`

// selectColumns casts created_at so drivers never map it to time.Time by
// declared type (legacy tables declare it TIMESTAMP).
const selectColumns = `id, path, file_name, category, top_score, scores, tags, caption, text_in_image, model,
	is_valuable, valuable_score, export_status, error_message, analysis_log, analysis_duration_ms,
	embedding, fingerprint, CAST(created_at AS INTEGER)`

// Insert writes p, replacing any row with the same id. Empty ids and zero
// timestamps are filled in.
func (s *Store) Insert(ctx context.Context, p *Photo) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.ExportStatus == "" {
		p.ExportStatus = ExportSuccess
	}
	_, top := p.Scores.Top()
	p.TopScore = top

	scores, err := json.Marshal(p.Scores)
	if err != nil {
		return fmt.Errorf("failed to marshal scores: %w", err)
	}
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	var valuable sql.NullInt64
	if p.Valuable != nil {
		valuable.Valid = true
		if *p.Valuable {
			valuable.Int64 = 1
		}
	}
	var valuableScore sql.NullFloat64
	if p.ValuableScore != nil {
		valuableScore = sql.NullFloat64{Float64: float64(*p.ValuableScore), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO photos (`+photoColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Path, p.FileName, string(p.Category), float64(p.TopScore), string(scores), string(tagsJSON),
		p.Caption, p.TextInImage, p.Model, valuable, valuableScore, p.ExportStatus, p.ErrorMessage,
		p.AnalysisLog, p.DurationMS, encodeEmbedding(p.Embedding), p.Fingerprint, p.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert photo %s: %w", p.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPhoto(row scanner) (*Photo, error) {
	var (
		p                                          Photo
		category, scores                           string
		topScore                                   sql.NullFloat64
		tags, caption, text, model, status, errMsg sql.NullString
		analysisLog, fingerprint                   sql.NullString
		valuable, duration, created                sql.NullInt64
		valuableScore                              sql.NullFloat64
		embedding                                  []byte
	)
	if err := row.Scan(&p.ID, &p.Path, &p.FileName, &category, &topScore, &scores, &tags, &caption, &text,
		&model, &valuable, &valuableScore, &status, &errMsg, &analysisLog, &duration, &embedding,
		&fingerprint, &created); err != nil {
		return nil, err
	}

	p.Category = taxonomy.ParseCategory(category)
	if err := json.Unmarshal([]byte(scores), &p.Scores); err != nil {
		return nil, fmt.Errorf("photo %s has invalid scores: %w", p.ID, err)
	}
	_, p.TopScore = p.Scores.Top()
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &p.Tags); err != nil {
			return nil, fmt.Errorf("photo %s has invalid tags: %w", p.ID, err)
		}
	}
	p.Caption = caption.String
	p.TextInImage = text.String
	p.Model = model.String
	p.ExportStatus = status.String
	p.ErrorMessage = errMsg.String
	p.AnalysisLog = analysisLog.String
	p.DurationMS = duration.Int64
	p.Fingerprint = fingerprint.String
	if valuable.Valid {
		v := valuable.Int64 != 0
		p.Valuable = &v
	}
	if valuableScore.Valid {
		v := float32(valuableScore.Float64)
		p.ValuableScore = &v
	}
	if created.Valid {
		p.CreatedAt = time.UnixMilli(created.Int64)
	}
	emb, err := decodeEmbedding(embedding)
	if err != nil {
		return nil, fmt.Errorf("photo %s: %w", p.ID, err)
	}
	p.Embedding = emb
	return &p, nil
}

// List returns every photo, newest first.
func (s *Store) List(ctx context.Context) ([]*Photo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM photos ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list photos: %w", err)
	}
	defer rows.Close()

	var out []*Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Get returns one photo or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Photo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM photos WHERE id = ?`, id)
	p, err := scanPhoto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get photo %s: %w", id, err)
	}
	return p, nil
}

// Clear deletes every photo.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM photos"); err != nil {
		return fmt.Errorf("failed to clear photos: %w", err)
	}
	return nil
}

// Count returns the number of stored photos.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM photos").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count photos: %w", err)
	}
	return n, nil
}

// ValueStats counts valuable, not valuable and unjudged photos.
func (s *Store) ValueStats(ctx context.Context) (ValueStats, error) {
	var v, nv, u sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT
		SUM(CASE WHEN is_valuable = 1 THEN 1 ELSE 0 END),
		SUM(CASE WHEN is_valuable = 0 THEN 1 ELSE 0 END),
		SUM(CASE WHEN is_valuable IS NULL THEN 1 ELSE 0 END)
		FROM photos`).Scan(&v, &nv, &u)
	if err != nil {
		return ValueStats{}, fmt.Errorf("failed to read value stats: %w", err)
	}
	return ValueStats{Valuable: int(v.Int64), NotValuable: int(nv.Int64), Unknown: int(u.Int64)}, nil
}

// Distribution aggregates stored scores per category. Every category is
// present; an empty table yields zeros.
func (s *Store) Distribution(ctx context.Context, mode DistributionMode) (map[taxonomy.CategoryKey]float64, error) {
	out := make(map[taxonomy.CategoryKey]float64, taxonomy.NumCategories)
	for _, k := range taxonomy.Categories() {
		out[k] = 0
	}

	rows, err := s.db.QueryContext(ctx, "SELECT category, scores FROM photos")
	if err != nil {
		return nil, fmt.Errorf("failed to read distribution: %w", err)
	}
	defer rows.Close()

	total := 0
	for rows.Next() {
		var category, raw string
		if err := rows.Scan(&category, &raw); err != nil {
			return nil, err
		}
		total++
		switch mode {
		case ModeCountRatio:
			out[taxonomy.ParseCategory(category)]++
		default:
			var scores taxonomy.Scores
			if err := json.Unmarshal([]byte(raw), &scores); err != nil {
				continue
			}
			for i, k := range taxonomy.Categories() {
				out[k] += float64(scores[i])
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if total == 0 {
		return out, nil
	}
	for k, v := range out {
		out[k] = round4(v / float64(total))
	}
	return out, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
