package querycache

import (
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/mjl-/bstore"

	"github.com/imapsearch/imapsearch/searchquery"
)

// Problem is an inconsistency found by Verify.
type Problem struct {
	Name string // Of the stored query, empty for database-level problems.
	Err  error
}

func (p Problem) String() string {
	if p.Name == "" {
		return p.Err.Error()
	}
	return fmt.Sprintf("%s: %v", p.Name, p.Err)
}

// Verify checks the database file at path, which must not be open. The bolt
// pages are checked for consistency, and all stored queries must parse. A
// non-nil error is returned if the file could not be checked at all.
func Verify(ctx context.Context, path string) ([]Problem, error) {
	bdb, err := bolt.Open(path, 0600, &bolt.Options{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("open database with bolt: %w", err)
	}
	var problems []Problem
	err = bdb.View(func(tx *bolt.Tx) error {
		for err := range tx.Check() {
			problems = append(problems, Problem{Err: fmt.Errorf("bolt database problem: %w", err)})
		}
		return nil
	})
	if xerr := bdb.Close(); err == nil {
		err = xerr
	}
	if err != nil {
		return nil, fmt.Errorf("reading bolt database: %w", err)
	}

	db, err := bstore.Open(ctx, path, &bstore.Options{MustExist: true}, DBTypes...)
	if err != nil {
		return nil, fmt.Errorf("open database with bstore: %w", err)
	}
	defer db.Close()
	records, err := bstore.QueryDB[Record](ctx, db).List()
	if err != nil {
		return nil, fmt.Errorf("listing stored queries: %w", err)
	}
	for _, r := range records {
		if _, err := searchquery.Unmarshal(r.Data); err != nil {
			problems = append(problems, Problem{r.Name, err})
		}
	}
	return problems, nil
}
