package hvlink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openrecord/hvlink/config"
	"github.com/openrecord/hvlink/internal/testutil/testlog"
	"github.com/openrecord/hvlink/person"
	"github.com/openrecord/hvlink/typecache"
	"github.com/openrecord/hvlink/wire"
)

var (
	testAppID  = uuid.MustParse("b5c5593f-afb8-466c-83ef-57212a74ab87")
	testTypeID = uuid.MustParse("30cafccc-047d-4288-94ef-643571f7919d")
)

const sessionResponse = `<response><status><code>0</code></status>` +
	`<wc:info xmlns:wc="urn:com.microsoft.wc.methods.response.CreateAuthenticatedSessionToken2">` +
	`<token>T</token><shared-secret>S</shared-secret>` +
	`</wc:info></response>`

var thingTypeResponse = `<response><status><code>0</code></status>` +
	`<wc:info xmlns:wc="urn:com.microsoft.wc.methods.response.GetThingType">` +
	`<thing-type><id>` + testTypeID.String() + `</id><name>Weight</name></thing-type>` +
	`</wc:info></response>`

// serviceTransport answers by method name parsed out of the envelope.
type serviceTransport struct {
	mu       sync.Mutex
	requests []string
	fail     error
}

func (s *serviceTransport) RoundTrip(_ context.Context, body []byte) ([]byte, error) {
	s.mu.Lock()
	s.requests = append(s.requests, string(body))
	fail := s.fail
	s.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	req := string(body)
	switch {
	case strings.Contains(req, "<method>CreateAuthenticatedSessionToken</method>"):
		return []byte(sessionResponse), nil
	case strings.Contains(req, "<method>GetThingType</method>"):
		return []byte(thingTypeResponse), nil
	default:
		return nil, fmt.Errorf("unexpected request: %s", req)
	}
}

func (s *serviceTransport) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.requests))
	copy(out, s.requests)
	return out
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ServiceURL = "https://platform.example.test/wildcat.ashx"
	cfg.AppID = testAppID
	cfg.AppSecret = "app-secret"
	return cfg
}

func newTestClient(t *testing.T, svc *serviceTransport, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithTransport(svc)}, opts...)
	client, err := New(testConfig(), opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestAuthenticateStoresCredential(t *testing.T) {
	testlog.Start(t)
	svc := &serviceTransport{}
	client := newTestClient(t, svc)

	if err := client.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	cred := client.Credential()
	if cred.Token != "T" || cred.SharedSecret != "S" {
		t.Fatalf("unexpected credential: %+v", cred)
	}
	if cred.Expired(time.Now()) {
		t.Fatalf("fresh credential reported expired")
	}

	reqs := svc.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one negotiation request, got %d", len(reqs))
	}
	if strings.Contains(reqs[0], "<auth-session>") {
		t.Fatalf("negotiation must be anonymous: %s", reqs[0])
	}
	if !strings.Contains(reqs[0], "<culture>en-US</culture>") {
		t.Fatalf("culture not stamped: %s", reqs[0])
	}
}

func TestInvokeAttachesSessionToken(t *testing.T) {
	testlog.Start(t)
	svc := &serviceTransport{}
	client := newTestClient(t, svc)

	if err := client.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	defs, err := client.TypeDefinitions(context.Background(), typecache.Query{IDs: []uuid.UUID{testTypeID}})
	if err != nil {
		t.Fatalf("type definitions: %v", err)
	}
	if defs[testTypeID].Name != "Weight" {
		t.Fatalf("unexpected definitions: %+v", defs)
	}

	reqs := svc.Requests()
	last := reqs[len(reqs)-1]
	if !strings.Contains(last, "<auth-session><auth-token>T</auth-token></auth-session>") {
		t.Fatalf("session token not attached: %s", last)
	}
}

func TestInvokeNegotiatesLazily(t *testing.T) {
	testlog.Start(t)
	svc := &serviceTransport{}
	client := newTestClient(t, svc)

	// No explicit Authenticate: the first authenticated call negotiates
	// first.
	if _, err := client.TypeDefinitions(context.Background(), typecache.Query{IDs: []uuid.UUID{testTypeID}}); err != nil {
		t.Fatalf("type definitions: %v", err)
	}

	reqs := svc.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected negotiate+fetch, got %d requests", len(reqs))
	}
	if !strings.Contains(reqs[0], "CreateAuthenticatedSessionToken") {
		t.Fatalf("first request is not a negotiation: %s", reqs[0])
	}
	if !strings.Contains(reqs[1], "<method>GetThingType</method>") {
		t.Fatalf("second request is not the fetch: %s", reqs[1])
	}
}

func TestExpiredCredentialIsRenegotiated(t *testing.T) {
	testlog.Start(t)
	svc := &serviceTransport{}
	now := time.Now()
	client := newTestClient(t, svc, WithClock(func() time.Time { return now }))

	if err := client.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := client.TypeDefinitions(context.Background(), typecache.Query{IDs: []uuid.UUID{testTypeID}}); err != nil {
		t.Fatalf("type definitions: %v", err)
	}
	countBefore := len(svc.Requests())

	// Jump past the credential lifetime; the next authenticated call must
	// renegotiate before fetching.
	now = now.Add(2 * time.Hour)
	client.types.Clear()
	if _, err := client.TypeDefinitions(context.Background(), typecache.Query{IDs: []uuid.UUID{testTypeID}}); err != nil {
		t.Fatalf("type definitions: %v", err)
	}

	reqs := svc.Requests()
	if len(reqs) != countBefore+2 {
		t.Fatalf("expected renegotiation plus fetch, got %d new requests", len(reqs)-countBefore)
	}
	if !strings.Contains(reqs[countBefore], "CreateAuthenticatedSessionToken") {
		t.Fatalf("expected renegotiation, got: %s", reqs[countBefore])
	}
}

func TestCloseDropsStateAndRecovers(t *testing.T) {
	testlog.Start(t)
	svc := &serviceTransport{}
	client := newTestClient(t, svc)

	if err := client.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := client.TypeDefinitions(context.Background(), typecache.Query{IDs: []uuid.UUID{testTypeID}}); err != nil {
		t.Fatalf("type definitions: %v", err)
	}

	client.Close()
	if client.Credential().Token != "" {
		t.Fatalf("credential not cleared")
	}

	// Re-use after Close renegotiates and refetches.
	countBefore := len(svc.Requests())
	if _, err := client.TypeDefinitions(context.Background(), typecache.Query{IDs: []uuid.UUID{testTypeID}}); err != nil {
		t.Fatalf("type definitions after close: %v", err)
	}
	if len(svc.Requests()) != countBefore+2 {
		t.Fatalf("expected negotiate+fetch after close, got %d new requests", len(svc.Requests())-countBefore)
	}
}

func TestInvokeTransportFailurePropagates(t *testing.T) {
	testlog.Start(t)
	cause := &wire.TransportError{Err: errors.New("no route to host")}
	svc := &serviceTransport{fail: cause}
	client := newTestClient(t, svc)

	err := client.Authenticate(context.Background())
	var trErr *wire.TransportError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.AppSecret = ""
	if _, err := New(cfg); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestPeopleDefaultsBatchSize(t *testing.T) {
	testlog.Start(t)
	svc := &serviceTransport{}
	client := newTestClient(t, svc)
	if _, err := client.People(person.Options{}); err != nil {
		t.Fatalf("people: %v", err)
	}
}
