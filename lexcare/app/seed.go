package app

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
)

// CandidateWriter accepts candidate records for the search index.
type CandidateWriter interface {
	Upsert(ctx context.Context, candidates []ports.Candidate) error
}

// candidateFile is the seed document layout.
type candidateFile struct {
	Candidates []ports.Candidate `yaml:"candidates"`
}

// LoadCandidates parses a candidate seed document.
func LoadCandidates(r io.Reader) ([]ports.Candidate, error) {
	var doc candidateFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse candidates: %w", err)
	}
	for i, c := range doc.Candidates {
		if c.ID == "" || c.Name == "" {
			return nil, fmt.Errorf("candidate %d: id and name are required", i)
		}
	}
	return doc.Candidates, nil
}

// Seed parses r and writes every candidate to w.
func Seed(ctx context.Context, w CandidateWriter, r io.Reader) (int, error) {
	candidates, err := LoadCandidates(r)
	if err != nil {
		return 0, err
	}
	if err := w.Upsert(ctx, candidates); err != nil {
		return 0, fmt.Errorf("failed to upsert candidates: %w", err)
	}
	return len(candidates), nil
}
