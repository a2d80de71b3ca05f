package credential

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

const (
	// MethodCreateSessionToken is negotiated at version 2; the service
	// answers under the method name suffixed "2". The suffix mapping is a
	// protocol constant.
	MethodCreateSessionToken        = "CreateAuthenticatedSessionToken"
	methodCreateSessionTokenVersion = 2
	responseCreateSessionToken      = "CreateAuthenticatedSessionToken2"
)

var (
	ErrNilInvoker        = errors.New("credential: nil invoker")
	ErrInvalidNegotiator = errors.New("credential: invalid negotiator")
)

// Negotiator obtains session credentials for one application.
type Negotiator struct {
	appID          uuid.UUID
	appSecret      string
	multiRecordApp bool
	signer         *Signer
	now            func() time.Time
	log            zerolog.Logger
}

func NewNegotiator(appID uuid.UUID, appSecret string, multiRecordApp bool, signer *Signer) (*Negotiator, error) {
	if appID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing app id", ErrInvalidNegotiator)
	}
	if appSecret == "" {
		return nil, fmt.Errorf("%w: missing app secret", ErrInvalidNegotiator)
	}
	if signer == nil {
		signer = NewSigner(nil)
	}
	return &Negotiator{
		appID:          appID,
		appSecret:      appSecret,
		multiRecordApp: multiRecordApp,
		signer:         signer,
		now:            time.Now,
		log:            logging.Component("credential"),
	}, nil
}

// Negotiate performs the signed handshake and returns a fresh credential.
func (n *Negotiator) Negotiate(ctx context.Context, inv wire.Invoker) (Credential, error) {
	if inv == nil {
		return Credential{}, ErrNilInvoker
	}
	sig, err := n.signer.Sign(n.appID, n.appSecret)
	if err != nil {
		return Credential{}, err
	}

	var buf bytes.Buffer
	buf.WriteString("<auth-info>")
	if n.multiRecordApp {
		buf.WriteString(`<app-id is-multi-record-app="true">`)
	} else {
		buf.WriteString("<app-id>")
	}
	buf.WriteString(n.appID.String())
	buf.WriteString("</app-id><credential><appserver2>")
	fmt.Fprintf(&buf, `<hmacSig algName="%s">%s</hmacSig>`, sig.Algorithm, sig.Value)
	// The signed bytes go out exactly as signed; re-serializing them would
	// invalidate the HMAC on the service side.
	buf.Write(sig.Content)
	buf.WriteString("</appserver2></credential></auth-info>")

	info, err := inv.Invoke(ctx, wire.Call{
		Method:         MethodCreateSessionToken,
		Version:        methodCreateSessionTokenVersion,
		ResponseMethod: responseCreateSessionToken,
		Parameters:     buf.String(),
	})
	if err != nil {
		return Credential{}, err
	}
	if info == nil {
		return Credential{}, &wire.ShapeError{Method: responseCreateSessionToken, Reason: "empty negotiation payload"}
	}

	token, err := uniqueText(info, "token")
	if err != nil {
		return Credential{}, err
	}
	secret, err := uniqueText(info, "shared-secret")
	if err != nil {
		return Credential{}, err
	}

	cred := Credential{
		Token:         token,
		SharedSecret:  secret,
		ExpirationUTC: n.now().UTC().Add(Lifetime),
	}
	n.log.Debug().Time("expires", cred.ExpirationUTC).Msg("session credential negotiated")
	return cred, nil
}

// uniqueText requires exactly one element named name under info. The service
// is never expected to repeat either credential element; more than one match
// is treated as a malformed response rather than silently keeping one.
func uniqueText(info *xmlquery.Node, name string) (string, error) {
	nodes := xmlquery.Find(info, ".//"+name)
	switch len(nodes) {
	case 0:
		return "", &wire.ShapeError{Method: responseCreateSessionToken, Reason: "missing " + name}
	case 1:
	default:
		return "", &wire.ShapeError{Method: responseCreateSessionToken, Reason: "duplicate " + name}
	}
	text := strings.TrimSpace(nodes[0].InnerText())
	if text == "" {
		return "", &wire.ShapeError{Method: responseCreateSessionToken, Reason: "empty " + name}
	}
	return text, nil
}
