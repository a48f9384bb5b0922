// Package querycache stores serialized search queries by name, so they don't
// have to be rebuilt for each search.
//
// Queries stored by an older version of the serialization are removed when
// loaded, and ErrStale returned, after which the caller should build the query
// again.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mjl-/bstore"

	"github.com/imapsearch/imapsearch/buildvar"
	"github.com/imapsearch/imapsearch/mlog"
	"github.com/imapsearch/imapsearch/searchquery"
)

var (
	metricLoad = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imapsearch_querycache_load_total",
			Help: "Number of cache loads by result.",
		},
		[]string{"result"},
	)
)

var timeNow = time.Now // Tests override this.

// Record is a stored query.
type Record struct {
	Name    string // Chosen by the application, e.g. "unread" or "inbox/flagged".
	Mailbox string `bstore:"index"` // Mailbox the query is typically used for, can be empty.
	Data    []byte // Serialized query, see searchquery.Query.MarshalBinary.
	Updated time.Time
}

var (
	ErrNotFound = errors.New("querycache: query not found")

	// Stored query was serialized by an incompatible version, and has been removed.
	ErrStale = errors.New("querycache: stored query has unrecognized version")
)

var DBTypes = []any{Record{}} // Types stored in DB.

// Cache is a database of stored queries. Safe for concurrent use.
type Cache struct {
	DB *bstore.DB // Exported for backups.

	log   mlog.Log
	loads singleflight.Group
}

// Open opens the database at path, creating it if needed.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Cache, error) {
	log := mlog.New("querycache", logger)
	os.MkdirAll(filepath.Dir(path), 0770)
	opts := bstore.Options{Timeout: 5 * time.Second, Perm: 0660, RegisterLogger: buildvar.RegisterLogger(path, log.Logger)}
	db, err := bstore.Open(ctx, path, &opts, DBTypes...)
	if err != nil {
		return nil, fmt.Errorf("open query cache: %w", err)
	}
	return &Cache{DB: db, log: log}, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.DB.Close()
}

// Save stores q under name, replacing an existing query with that name.
func (c *Cache) Save(ctx context.Context, name, mailbox string, q *searchquery.Query) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", searchquery.ErrInvalidArgument)
	}
	buf, err := q.MarshalBinary()
	if err != nil {
		return fmt.Errorf("serializing query: %w", err)
	}

	err = c.DB.Write(ctx, func(tx *bstore.Tx) error {
		r := Record{Name: name}
		err := tx.Get(&r)
		if err == bstore.ErrAbsent {
			r = Record{name, mailbox, buf, timeNow()}
			return tx.Insert(&r)
		} else if err != nil {
			return err
		}
		r.Mailbox = mailbox
		r.Data = buf
		r.Updated = timeNow()
		return tx.Update(&r)
	})
	if err != nil {
		return fmt.Errorf("storing query: %w", err)
	}
	c.log.Debug("query stored", slog.String("name", name), slog.String("mailbox", mailbox), slog.Int("size", len(buf)))
	return nil
}

// Load returns the query stored under name. Concurrent loads of the same name
// read the database once, each caller gets its own copy of the query.
//
// ErrNotFound is returned if no query is stored. If the stored query was written
// by an incompatible version, it is removed and ErrStale is returned.
func (c *Cache) Load(ctx context.Context, name string) (rq *searchquery.Query, rerr error) {
	defer func() {
		result := "ok"
		if errors.Is(rerr, ErrNotFound) {
			result = "notfound"
		} else if errors.Is(rerr, ErrStale) {
			result = "stale"
		} else if rerr != nil {
			result = "error"
		}
		metricLoad.WithLabelValues(result).Inc()
	}()

	// Callers that join the load must not get an error because the first caller's
	// context was canceled. A canceled caller stops waiting, the load continues.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.loads.DoChan(name, func() (any, error) {
		return c.load(loadCtx, name)
	})
	var r singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r = <-ch:
	}
	if r.Err != nil {
		return nil, r.Err
	}
	q, err := searchquery.Unmarshal(r.Val.([]byte))
	if err != nil {
		return nil, fmt.Errorf("parsing stored query %q: %w", name, err)
	}
	return q, nil
}

var testHookLoad = func(ctx context.Context, name string) {}

func (c *Cache) load(ctx context.Context, name string) ([]byte, error) {
	testHookLoad(ctx, name)

	r := Record{Name: name}
	if err := c.DB.Get(ctx, &r); err == bstore.ErrAbsent {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("reading stored query: %w", err)
	}

	if _, err := searchquery.Unmarshal(r.Data); errors.Is(err, searchquery.ErrVersionMismatch) {
		c.log.Infox("removing stored query with unrecognized version", err, slog.String("name", name))
		if err := c.DB.Delete(ctx, &r); err != nil && err != bstore.ErrAbsent {
			c.log.Errorx("removing stale stored query", err, slog.String("name", name))
		}
		return nil, fmt.Errorf("%w: %s", ErrStale, name)
	} else if err != nil {
		return nil, fmt.Errorf("parsing stored query %q: %w", name, err)
	}
	return r.Data, nil
}

// List returns the stored queries for mailbox, or all queries if mailbox is
// empty, sorted by name.
func (c *Cache) List(ctx context.Context, mailbox string) ([]Record, error) {
	q := bstore.QueryDB[Record](ctx, c.DB)
	if mailbox != "" {
		q.FilterNonzero(Record{Mailbox: mailbox})
	}
	return q.SortAsc("Name").List()
}

// Delete removes the query stored under name.
func (c *Cache) Delete(ctx context.Context, name string) error {
	err := c.DB.Delete(ctx, &Record{Name: name})
	if err == bstore.ErrAbsent {
		return ErrNotFound
	} else if err != nil {
		return fmt.Errorf("removing stored query: %w", err)
	}
	c.log.Debug("stored query removed", slog.String("name", name))
	return nil
}

// Backup writes a consistent copy of the database file to w.
func (c *Cache) Backup(ctx context.Context, w io.Writer) error {
	return c.DB.Read(ctx, func(tx *bstore.Tx) error {
		_, err := tx.WriteTo(w)
		return err
	})
}
