// Package typecache maintains a per-client cache of remote type definitions,
// keyed by culture and section mask. Entries are added or wholesale-replaced
// per bucket; there is no TTL eviction, only an explicit Clear.
package typecache

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openrecord/hvlink/internal/logging"
	"github.com/openrecord/hvlink/wire"
)

const (
	MethodGetThingType = "GetThingType"

	DefaultCulture = "en-US"
)

var ErrNilInvoker = errors.New("typecache: nil invoker")

// Definition is one remote type schema.
type Definition struct {
	ID   uuid.UUID
	Name string

	// XML holds the serialized thing-type subtree for callers that need the
	// sections beyond id and name.
	XML string
}

// Query selects which definitions to fetch and which sections to include.
type Query struct {
	IDs        []uuid.UUID
	Sections   Section
	ImageTypes []string

	// LastClientRefresh, when set, forces a fresh fetch whose result
	// replaces the whole (culture, sections) bucket.
	LastClientRefresh time.Time
}

type bucketKey struct {
	culture  string
	sections Section
}

type bucket struct {
	defs map[uuid.UUID]Definition

	// complete marks that a full no-ids fetch has populated the bucket, so
	// later no-ids queries can be served without a network call.
	complete bool
}

// Cache is safe for concurrent use. The mutex guards only the in-memory
// maps; every fetch runs outside it.
type Cache struct {
	culture string

	mu      sync.Mutex
	buckets map[bucketKey]*bucket

	log zerolog.Logger
}

func New(culture string) *Cache {
	culture = strings.TrimSpace(culture)
	if culture == "" {
		culture = DefaultCulture
	}
	return &Cache{
		culture: culture,
		buckets: make(map[bucketKey]*bucket),
		log:     logging.Component("typecache"),
	}
}

func (c *Cache) Culture() string {
	return c.culture
}

// Get returns the requested definitions, fetching misses in one batched
// call. A failed fetch aborts the call with no cache mutation.
func (c *Cache) Get(ctx context.Context, inv wire.Invoker, q Query) (map[uuid.UUID]Definition, error) {
	if inv == nil {
		return nil, ErrNilInvoker
	}
	sections := q.Sections
	if sections == 0 {
		sections = SectionCore
	}
	key := bucketKey{culture: c.culture, sections: sections}

	if !q.LastClientRefresh.IsZero() {
		// Forced refresh replaces the whole bucket with whatever the fetch
		// returned, even when the query named only a subset of ids.
		// Definitions the query did not name are dropped from the bucket.
		fetched, err := c.fetch(ctx, inv, q.IDs, sections, q.ImageTypes, q.LastClientRefresh)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.buckets[key] = &bucket{defs: cloneDefs(fetched), complete: len(q.IDs) == 0}
		c.mu.Unlock()
		c.log.Debug().Stringer("sections", sections).Int("defs", len(fetched)).Msg("bucket replaced on forced refresh")
		return fetched, nil
	}

	if len(q.IDs) == 0 {
		return c.getAll(ctx, inv, key, sections, q.ImageTypes)
	}

	result := make(map[uuid.UUID]Definition, len(q.IDs))
	var misses []uuid.UUID
	c.mu.Lock()
	b := c.buckets[key]
	for _, id := range q.IDs {
		if b != nil {
			if def, ok := b.defs[id]; ok {
				result[id] = def
				continue
			}
		}
		misses = append(misses, id)
	}
	c.mu.Unlock()

	if len(misses) == 0 {
		return result, nil
	}

	fetched, err := c.fetch(ctx, inv, misses, sections, q.ImageTypes, time.Time{})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	b = c.ensureBucket(key)
	for id, def := range fetched {
		b.defs[id] = def
		result[id] = def
	}
	c.mu.Unlock()
	return result, nil
}

// Clear drops every bucket.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.buckets = make(map[bucketKey]*bucket)
	c.mu.Unlock()
	c.log.Debug().Msg("cache cleared")
}

func (c *Cache) getAll(ctx context.Context, inv wire.Invoker, key bucketKey, sections Section, imageTypes []string) (map[uuid.UUID]Definition, error) {
	c.mu.Lock()
	if b := c.buckets[key]; b != nil && b.complete {
		out := cloneDefs(b.defs)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	fetched, err := c.fetch(ctx, inv, nil, sections, imageTypes, time.Time{})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	b := c.ensureBucket(key)
	for id, def := range fetched {
		b.defs[id] = def
	}
	b.complete = true
	c.mu.Unlock()
	return fetched, nil
}

func (c *Cache) ensureBucket(key bucketKey) *bucket {
	b := c.buckets[key]
	if b == nil {
		b = &bucket{defs: make(map[uuid.UUID]Definition)}
		c.buckets[key] = b
	}
	return b
}

func (c *Cache) fetch(ctx context.Context, inv wire.Invoker, ids []uuid.UUID, sections Section, imageTypes []string, lastRefresh time.Time) (map[uuid.UUID]Definition, error) {
	var buf bytes.Buffer
	for _, id := range ids {
		buf.WriteString("<id>")
		buf.WriteString(id.String())
		buf.WriteString("</id>")
	}
	for _, name := range sections.Names() {
		buf.WriteString("<section>")
		buf.WriteString(name)
		buf.WriteString("</section>")
	}
	for _, imageType := range imageTypes {
		buf.WriteString("<image-type>")
		_ = xml.EscapeText(&buf, []byte(imageType))
		buf.WriteString("</image-type>")
	}
	if !lastRefresh.IsZero() {
		buf.WriteString("<last-client-refresh>")
		buf.WriteString(lastRefresh.UTC().Format(time.RFC3339))
		buf.WriteString("</last-client-refresh>")
	}

	info, err := inv.Invoke(ctx, wire.Call{
		Method:     MethodGetThingType,
		Version:    1,
		Culture:    c.culture,
		Parameters: buf.String(),
	})
	if err != nil {
		return nil, err
	}
	defs := make(map[uuid.UUID]Definition)
	if info == nil {
		// Nothing changed since lastRefresh; the service sent no payload.
		return defs, nil
	}

	for _, node := range xmlquery.Find(info, "thing-type") {
		def, err := parseDefinition(node)
		if err != nil {
			return nil, err
		}
		defs[def.ID] = def
	}
	c.log.Debug().Stringer("sections", sections).Int("requested", len(ids)).Int("fetched", len(defs)).Msg("definitions fetched")
	return defs, nil
}

func parseDefinition(node *xmlquery.Node) (Definition, error) {
	idNode := node.SelectElement("id")
	if idNode == nil {
		return Definition{}, &wire.ShapeError{Method: MethodGetThingType, Reason: "thing-type missing id"}
	}
	id, err := uuid.Parse(strings.TrimSpace(idNode.InnerText()))
	if err != nil {
		return Definition{}, &wire.ShapeError{Method: MethodGetThingType, Reason: fmt.Sprintf("bad thing-type id: %v", err)}
	}
	nameNode := node.SelectElement("name")
	if nameNode == nil {
		return Definition{}, &wire.ShapeError{Method: MethodGetThingType, Reason: "thing-type missing name"}
	}
	return Definition{
		ID:   id,
		Name: strings.TrimSpace(nameNode.InnerText()),
		XML:  node.OutputXML(true),
	}, nil
}

func cloneDefs(in map[uuid.UUID]Definition) map[uuid.UUID]Definition {
	out := make(map[uuid.UUID]Definition, len(in))
	for id, def := range in {
		out[id] = def
	}
	return out
}
