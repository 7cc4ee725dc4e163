package adapters

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
)

// SQLSearchIndex serves candidate retrieval from the candidates table, with
// FTS5 ranking for free-text queries and JSON1 filters for list columns.
type SQLSearchIndex struct {
	db *sql.DB
}

// NewSQLSearchIndex creates a search index over an open, migrated database.
func NewSQLSearchIndex(db *sql.DB) *SQLSearchIndex {
	return &SQLSearchIndex{db: db}
}

// Upsert inserts or replaces candidates and their text index rows.
func (s *SQLSearchIndex) Upsert(ctx context.Context, candidates []ports.Candidate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer tx.Rollback()

	for _, c := range candidates {
		c = normalizeCandidate(c)
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal candidate %s: %w", c.ID, err)
		}
		categories, _ := json.Marshal(nonNil(c.Categories))
		languages, _ := json.Marshal(nonNil(c.Languages))
		communities, _ := json.Marshal(nonNil(c.Communities))

		_, err = tx.ExecContext(ctx, `
			INSERT INTO candidates (id, name, org_name, region, city, area, zip, fee_tier, rating,
				review_count, response_hours, gender, categories, languages, communities, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name, org_name = excluded.org_name, region = excluded.region,
				city = excluded.city, area = excluded.area, zip = excluded.zip,
				fee_tier = excluded.fee_tier, rating = excluded.rating,
				review_count = excluded.review_count, response_hours = excluded.response_hours,
				gender = excluded.gender, categories = excluded.categories,
				languages = excluded.languages, communities = excluded.communities, data = excluded.data
		`, c.ID, c.Name, c.OrgName, c.Location.Region, c.Location.City, c.Location.Area, c.Location.Zip,
			c.FeeTier, c.Rating, c.ReviewCount, c.ResponseHours, c.Gender,
			string(categories), string(languages), string(communities), string(data))
		if err != nil {
			return fmt.Errorf("failed to upsert candidate %s: %w", c.ID, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM candidates_fts WHERE id = ?`, c.ID); err != nil {
			return fmt.Errorf("failed to clear text index for %s: %w", c.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO candidates_fts (id, name, org_name, categories, profile) VALUES (?, ?, ?, ?, ?)
		`, c.ID, c.Name, c.OrgName, strings.Join(c.Categories, " "), c.Profile)
		if err != nil {
			return fmt.Errorf("failed to index candidate %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// Search runs a filtered query, ranked by bm25 when text is present.
func (s *SQLSearchIndex) Search(ctx context.Context, q ports.SearchQuery) ([]ports.SearchHit, error) {
	var (
		where []string
		args  []any
		from  = "candidates c"
		score = "c.rating"
	)

	if match := ftsQuery(q.Text); match != "" {
		// FTS5 takes the table name, not an alias, for MATCH and bm25
		from = "candidates c JOIN candidates_fts ON candidates_fts.id = c.id"
		score = "-bm25(candidates_fts)"
		where = append(where, "candidates_fts MATCH ?")
		args = append(args, match)
	}

	f := q.Filters
	if len(f.Categories) > 0 {
		where = append(where, jsonAnyOf("c.categories", len(f.Categories)))
		args = appendLower(args, f.Categories)
	}
	if len(f.Languages) > 0 {
		where = append(where, jsonAnyOf("c.languages", len(f.Languages)))
		args = appendLower(args, f.Languages)
	}
	if len(f.Communities) > 0 {
		where = append(where, jsonAnyOf("c.communities", len(f.Communities)))
		args = appendLower(args, f.Communities)
	}
	if f.Region != "" {
		where = append(where, "c.region = ?")
		args = append(args, strings.ToLower(f.Region))
	}
	if f.City != "" {
		where = append(where, "c.city = ?")
		args = append(args, strings.ToLower(f.City))
	}
	if f.MaxFeeTier > 0 {
		where = append(where, "(c.fee_tier = 0 OR c.fee_tier <= ?)")
		args = append(args, f.MaxFeeTier)
	}
	if f.Gender != "" {
		where = append(where, "c.gender = ?")
		args = append(args, strings.ToLower(f.Gender))
	}
	if f.MinRating > 0 {
		where = append(where, "c.rating >= ?")
		args = append(args, f.MinRating)
	}
	if f.MinReviews > 0 {
		where = append(where, "c.review_count >= ?")
		args = append(args, f.MinReviews)
	}
	if f.MaxResponseHours > 0 {
		where = append(where, "(c.response_hours > 0 AND c.response_hours <= ?)")
		args = append(args, f.MaxResponseHours)
	}

	query := fmt.Sprintf("SELECT c.data, %s AS score FROM %s", score, from)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	order := "score DESC, c.id"
	if q.Geo != nil && q.Geo.City != "" {
		order = "(c.city = ?) DESC, " + order
		args = append(args, strings.ToLower(q.Geo.City))
	}
	size := q.Size
	if size <= 0 {
		size = 20
	}
	query += " ORDER BY " + order + " LIMIT ?"
	args = append(args, size)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search candidates: %w", err)
	}
	defer rows.Close()

	var hits []ports.SearchHit
	for rows.Next() {
		var (
			data string
			hit  ports.SearchHit
		)
		if err := rows.Scan(&data, &hit.Score); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &hit.Candidate); err != nil {
			return nil, fmt.Errorf("failed to unmarshal candidate: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidates: %w", err)
	}
	return hits, nil
}

// Get loads one candidate by id.
func (s *SQLSearchIndex) Get(ctx context.Context, id string) (*ports.Candidate, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM candidates WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate: %w", err)
	}
	var c ports.Candidate
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal candidate: %w", err)
	}
	return &c, nil
}

// Suggest completes candidate and organization names.
func (s *SQLSearchIndex) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	pattern := escapeLike(prefix) + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT label FROM (
			SELECT name AS label, review_count FROM candidates WHERE name LIKE ? ESCAPE '\'
			UNION
			SELECT org_name AS label, review_count FROM candidates WHERE org_name <> '' AND org_name LIKE ? ESCAPE '\'
		)
		GROUP BY label
		ORDER BY MAX(review_count) DESC, label
		LIMIT ?
	`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("failed to scan suggestion: %w", err)
		}
		out = append(out, label)
	}
	return out, rows.Err()
}

// ftsQuery turns free text into an OR of quoted terms, dropping FTS syntax.
func ftsQuery(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < 3 || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}

func jsonAnyOf(column string, n int) string {
	return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value IN (%s))",
		column, strings.TrimSuffix(strings.Repeat("?,", n), ","))
}

func appendLower(args []any, values []string) []any {
	for _, v := range values {
		args = append(args, strings.ToLower(v))
	}
	return args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func normalizeCandidate(c ports.Candidate) ports.Candidate {
	lower := func(in []string) []string {
		out := make([]string, len(in))
		for i, v := range in {
			out[i] = strings.ToLower(strings.TrimSpace(v))
		}
		return out
	}
	c.Categories = lower(c.Categories)
	c.Languages = lower(c.Languages)
	c.Communities = lower(c.Communities)
	c.Accessibility = lower(c.Accessibility)
	c.Gender = strings.ToLower(c.Gender)
	c.Location.Region = strings.ToLower(c.Location.Region)
	c.Location.City = strings.ToLower(c.Location.City)
	c.Location.Area = strings.ToLower(c.Location.Area)
	return c
}

var _ ports.SearchIndex = (*SQLSearchIndex)(nil)
