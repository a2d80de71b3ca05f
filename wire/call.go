// Package wire builds the request envelopes and parses the response
// documents of the record service's XML-over-HTTP method protocol.
package wire

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/antchfx/xmlquery"
	"github.com/google/uuid"
)

// Call describes one method invocation.
type Call struct {
	Method  string
	Version int

	// RecordID scopes the call to one health record. uuid.Nil means the
	// method is not record-scoped.
	RecordID uuid.UUID

	// Culture selects the locale for localizable response content.
	Culture string

	// AuthToken carries the negotiated session token. Empty for the
	// anonymous methods such as session negotiation itself.
	AuthToken string

	// Parameters is the method-specific payload, supplied as pre-serialized
	// XML and embedded unescaped. The builder performs no structural
	// validation; the caller must guarantee the fragment is well-formed and
	// cannot break out of the envelope.
	Parameters string

	// ResponseMethod overrides the method name used for the response
	// namespace when the service answers under a variant name (for example
	// session negotiation v2 answers under the method name suffixed "2").
	// Empty means Method.
	ResponseMethod string
}

func (c Call) Validate() error {
	if c.Method == "" {
		return fmt.Errorf("%w: missing method", ErrInvalidCall)
	}
	if c.Version < 1 {
		return fmt.Errorf("%w: version must be positive", ErrInvalidCall)
	}
	return nil
}

// ResponseNamespaceMethod is the method-name component of the response
// payload namespace.
func (c Call) ResponseNamespaceMethod() string {
	if c.ResponseMethod != "" {
		return c.ResponseMethod
	}
	return c.Method
}

// Encode serializes the request envelope. The Parameters fragment is written
// verbatim; every other field is XML-escaped.
func (c Call) Encode() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString("<request>")
	if c.AuthToken != "" {
		buf.WriteString("<auth-session><auth-token>")
		writeEscaped(&buf, c.AuthToken)
		buf.WriteString("</auth-token></auth-session>")
	}
	buf.WriteString("<method>")
	writeEscaped(&buf, c.Method)
	buf.WriteString("</method><method-version>")
	buf.WriteString(strconv.Itoa(c.Version))
	buf.WriteString("</method-version>")
	if c.RecordID != uuid.Nil {
		buf.WriteString("<record-id>")
		buf.WriteString(c.RecordID.String())
		buf.WriteString("</record-id>")
	}
	if c.Culture != "" {
		buf.WriteString("<culture>")
		writeEscaped(&buf, c.Culture)
		buf.WriteString("</culture>")
	}
	if c.Parameters != "" {
		buf.WriteString("<info>")
		buf.WriteString(c.Parameters)
		buf.WriteString("</info>")
	}
	buf.WriteString("</request>")
	return buf.Bytes(), nil
}

func writeEscaped(buf *bytes.Buffer, s string) {
	// bytes.Buffer writes cannot fail.
	_ = xml.EscapeText(buf, []byte(s))
}

// Invoker executes one method call and returns its info payload node, or nil
// when the response carries no data.
type Invoker interface {
	Invoke(ctx context.Context, call Call) (*xmlquery.Node, error)
}

// InvokerFunc adapts a function into an Invoker.
type InvokerFunc func(ctx context.Context, call Call) (*xmlquery.Node, error)

func (f InvokerFunc) Invoke(ctx context.Context, call Call) (*xmlquery.Node, error) {
	return f(ctx, call)
}
