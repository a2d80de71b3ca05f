package person

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openrecord/hvlink/internal/logging"
	"github.com/openrecord/hvlink/wire"
)

// DefaultBatchSize is the page size used when the caller does not pick one.
const DefaultBatchSize = 200

var (
	ErrNilInvoker       = errors.New("person: nil invoker")
	ErrInvalidBatchSize = errors.New("person: batch size must be positive")
)

// Options configures one enumeration.
type Options struct {
	// Cursor resumes after a known person id. uuid.Nil starts from the
	// beginning.
	Cursor uuid.UUID

	// CreatedSince restricts results to authorizations created after the
	// given instant.
	CreatedSince time.Time

	BatchSize int
}

// Enumerator walks the authorized-people result set one item at a time,
// fetching a batch only when the previous one is exhausted. It never rewinds
// and never prefetches. Usage follows the scanner shape:
//
//	for e.Next(ctx) {
//	    p := e.Person()
//	    ...
//	}
//	if err := e.Err(); err != nil { ... }
//
// A fetch failure is not sticky: Next reports false with Err set, and the
// next call to Next retries the same cursor. Retrying is safe because the
// listing is read-only.
type Enumerator struct {
	inv  wire.Invoker
	opts Options

	cursor uuid.UUID
	batch  []Person
	more   bool
	cur    Person
	err    error

	log zerolog.Logger
}

// Enumerate validates the options and returns an enumerator positioned
// before the first item. No fetch happens until the first Next.
func Enumerate(inv wire.Invoker, opts Options) (*Enumerator, error) {
	if inv == nil {
		return nil, ErrNilInvoker
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, opts.BatchSize)
	}
	return &Enumerator{
		inv:    inv,
		opts:   opts,
		cursor: opts.Cursor,
		more:   true,
		log:    logging.Component("person"),
	}, nil
}

// Next advances to the next person, fetching the next batch when needed.
func (e *Enumerator) Next(ctx context.Context) bool {
	e.err = nil
	if len(e.batch) == 0 {
		if !e.more {
			return false
		}
		if err := e.refill(ctx); err != nil {
			e.err = err
			return false
		}
		if len(e.batch) == 0 {
			return false
		}
	}
	e.cur = e.batch[0]
	e.batch = e.batch[1:]
	e.cursor = e.cur.ID
	return true
}

// Person returns the item produced by the last successful Next.
func (e *Enumerator) Person() Person {
	return e.cur
}

// Err returns the failure from the last Next, if any.
func (e *Enumerator) Err() error {
	return e.err
}

func (e *Enumerator) refill(ctx context.Context) error {
	var buf bytes.Buffer
	buf.WriteString("<parameters><num-results>")
	fmt.Fprintf(&buf, "%d", e.opts.BatchSize)
	buf.WriteString("</num-results>")
	if e.cursor != uuid.Nil {
		buf.WriteString("<person-id-cursor>")
		buf.WriteString(e.cursor.String())
		buf.WriteString("</person-id-cursor>")
	}
	if !e.opts.CreatedSince.IsZero() {
		buf.WriteString("<authorizations-created-since>")
		buf.WriteString(e.opts.CreatedSince.UTC().Format(time.RFC3339))
		buf.WriteString("</authorizations-created-since>")
	}
	buf.WriteString("</parameters>")

	info, err := e.inv.Invoke(ctx, wire.Call{
		Method:     MethodGetAuthorizedPeople,
		Version:    1,
		Parameters: buf.String(),
	})
	if err != nil {
		return err
	}
	if info == nil {
		e.more = false
		return nil
	}

	results := xmlquery.FindOne(info, "response-results")
	if results == nil {
		return &wire.ShapeError{Method: MethodGetAuthorizedPeople, Reason: "missing response-results"}
	}
	nodes := xmlquery.Find(results, "person-info")
	batch := make([]Person, 0, len(nodes))
	for _, node := range nodes {
		p, err := parsePerson(node)
		if err != nil {
			return err
		}
		batch = append(batch, p)
	}

	more := false
	if moreNode := results.SelectElement("more-results"); moreNode != nil {
		more = strings.TrimSpace(moreNode.InnerText()) == "true"
	}

	e.batch = batch
	e.more = more
	e.log.Debug().Int("batch", len(batch)).Bool("more", more).Msg("page fetched")
	return nil
}
