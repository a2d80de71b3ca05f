// Package hvlink is a client for an authenticated XML-over-HTTP RPC service
// managing personal health records. The Client owns one negotiated session
// credential and one type-definition cache; every method call flows through
// the same envelope/parse substrate.
package hvlink

import (
	"context"
	"sync"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openrecord/hvlink/config"
	"github.com/openrecord/hvlink/credential"
	"github.com/openrecord/hvlink/internal/logging"
	"github.com/openrecord/hvlink/person"
	"github.com/openrecord/hvlink/transport"
	"github.com/openrecord/hvlink/typecache"
	"github.com/openrecord/hvlink/wire"
)

// Option configures the Client.
type Option func(*Client)

// WithTransport substitutes the default HTTP transport.
func WithTransport(tr transport.Transport) Option {
	return func(c *Client) {
		c.tr = tr
	}
}

// WithCryptographer substitutes the signing primitive.
func WithCryptographer(crypto credential.Cryptographer) Option {
	return func(c *Client) {
		c.crypto = crypto
	}
}

// WithClock substitutes the time source used for credential expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client is a connection to the record service. It is safe for concurrent
// use; the credential is the only mutable state it guards directly.
type Client struct {
	cfg    config.Config
	tr     transport.Transport
	crypto credential.Cryptographer
	neg    *credential.Negotiator
	now    func() time.Time

	mu   sync.Mutex
	cred credential.Credential

	types *typecache.Cache
	log   zerolog.Logger
}

func New(cfg config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:   cfg,
		now:   time.Now,
		types: typecache.New(cfg.Culture),
		log:   logging.Component("client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tr == nil {
		tr, err := transport.NewHTTP(cfg.ServiceURL,
			transport.WithTimeout(cfg.RequestTimeout),
			transport.WithRetry(cfg.Retry.MaxAttempts, cfg.Retry.Backoff),
		)
		if err != nil {
			return nil, err
		}
		c.tr = tr
	}
	neg, err := credential.NewNegotiator(cfg.AppID, cfg.AppSecret, cfg.MultiRecordApp, credential.NewSigner(c.crypto))
	if err != nil {
		return nil, err
	}
	c.neg = neg
	return c, nil
}

// Authenticate negotiates a fresh session credential and stores it,
// replacing any previous one.
func (c *Client) Authenticate(ctx context.Context) error {
	cred, err := c.neg.Negotiate(ctx, wire.InvokerFunc(c.invokeAnonymous))
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.cred = cred
	c.mu.Unlock()
	c.log.Debug().Time("expires", cred.ExpirationUTC).Msg("authenticated")
	return nil
}

// Credential returns a copy of the current session credential.
func (c *Client) Credential() credential.Credential {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cred
}

// Invoke implements wire.Invoker. Calls without an explicit token get the
// session credential attached, negotiating one first when it is absent or
// expired.
func (c *Client) Invoke(ctx context.Context, call wire.Call) (*xmlquery.Node, error) {
	if call.AuthToken == "" {
		token, err := c.token(ctx)
		if err != nil {
			return nil, err
		}
		call.AuthToken = token
	}
	return c.invokeAnonymous(ctx, call)
}

// TypeDefinitions resolves type schemas through the client's cache.
func (c *Client) TypeDefinitions(ctx context.Context, q typecache.Query) (map[uuid.UUID]typecache.Definition, error) {
	return c.types.Get(ctx, c, q)
}

// People starts a paged enumeration of the authorized people.
func (c *Client) People(opts person.Options) (*person.Enumerator, error) {
	if opts.BatchSize == 0 {
		opts.BatchSize = person.DefaultBatchSize
	}
	return person.Enumerate(c, opts)
}

// Close drops the session credential and empties the type cache. The client
// re-negotiates transparently if used again.
func (c *Client) Close() {
	c.mu.Lock()
	c.cred = credential.Credential{}
	c.mu.Unlock()
	c.types.Clear()
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	cred := c.cred
	c.mu.Unlock()
	if !cred.Expired(c.now()) {
		return cred.Token, nil
	}

	// Negotiation runs outside the lock. Two racing callers may both
	// negotiate; the credential is replaced wholesale either way.
	fresh, err := c.neg.Negotiate(ctx, wire.InvokerFunc(c.invokeAnonymous))
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.cred = fresh
	c.mu.Unlock()
	return fresh.Token, nil
}

// invokeAnonymous runs one call without touching the credential: encode,
// round trip, parse, extract.
func (c *Client) invokeAnonymous(ctx context.Context, call wire.Call) (*xmlquery.Node, error) {
	if call.Culture == "" {
		call.Culture = c.cfg.Culture
	}
	body, err := call.Encode()
	if err != nil {
		return nil, err
	}
	c.log.Debug().Str("method", call.Method).Int("version", call.Version).Msg("invoking")
	respBody, err := c.tr.RoundTrip(ctx, body)
	if err != nil {
		return nil, err
	}
	resp, err := wire.ParseResponse(respBody)
	if err != nil {
		return nil, err
	}
	return wire.ExtractInfo(resp, call.ResponseNamespaceMethod())
}
