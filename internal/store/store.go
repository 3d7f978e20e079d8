// Package store persists case definitions outside the process. Cases are
// stored whole, as the same JSON document the loader reads from disk.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/railsection-simulator/core"
	"github.com/signalsfoundry/railsection-simulator/kb"
	"github.com/signalsfoundry/railsection-simulator/model"
)

// ErrCaseNotFound indicates the repository has no case with the given id.
var ErrCaseNotFound = errors.New("case not found in store")

// CaseRepository reads and writes case definitions.
type CaseRepository interface {
	ListCases(ctx context.Context) ([]*model.Case, error)
	GetCase(ctx context.Context, id string) (*model.Case, error)
	PutCase(ctx context.Context, c *model.Case) error
	Close() error
}

// LoadInto copies every stored case into book, replacing cases with the
// same id. It returns the number of cases loaded.
func LoadInto(ctx context.Context, repo CaseRepository, book *kb.CaseBook) (int, error) {
	cases, err := repo.ListCases(ctx)
	if err != nil {
		return 0, err
	}
	for _, c := range cases {
		if err := book.Put(c); err != nil {
			return 0, fmt.Errorf("load case %q: %w", c.ID, err)
		}
	}
	return len(cases), nil
}

// Seed writes cases into repo.
func Seed(ctx context.Context, repo CaseRepository, cases []*model.Case) error {
	for _, c := range cases {
		if err := repo.PutCase(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func encode(c *model.Case) ([]byte, error) {
	if c == nil || c.ID == "" {
		return nil, fmt.Errorf("%w: case must have an id", model.ErrInvalidCase)
	}
	var buf bytes.Buffer
	if err := core.EncodeCase(&buf, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(id string, data []byte) (*model.Case, error) {
	c, err := core.LoadCase(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode stored case %q: %w", id, err)
	}
	return c, nil
}
