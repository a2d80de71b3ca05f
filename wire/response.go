package wire

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// ResponseNamespacePrefix is the base of the per-method response payload
// namespace; the method name (plus any version suffix) completes it.
const ResponseNamespacePrefix = "urn:com.microsoft.wc.methods.response."

// Response is one parsed response document whose status has already been
// checked.
type Response struct {
	doc *xmlquery.Node
}

// ParseResponse parses a response document and checks its status block.
// A nonzero status code yields a *ServiceError carrying the structured
// error message.
func ParseResponse(body []byte) (*Response, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &ShapeError{Reason: fmt.Sprintf("unparseable document: %v", err)}
	}
	codeNode := xmlquery.FindOne(doc, "/response/status/code")
	if codeNode == nil {
		return nil, &ShapeError{Reason: "missing status code"}
	}
	code, err := strconv.Atoi(strings.TrimSpace(codeNode.InnerText()))
	if err != nil {
		return nil, &ShapeError{Reason: "non-numeric status code"}
	}
	if code != 0 {
		msg := ""
		if msgNode := xmlquery.FindOne(doc, "/response/status/error/message"); msgNode != nil {
			msg = strings.TrimSpace(msgNode.InnerText())
		}
		return nil, &ServiceError{Code: code, Message: msg}
	}
	return &Response{doc: doc}, nil
}

// ExtractInfo locates the method-specific info payload. The info element must
// sit in the namespace formed from the response method name; a response with
// no info element is a shape error, while an info element with no element
// children is the protocol's "no data / not modified" signal and yields
// (nil, nil).
func ExtractInfo(resp *Response, method string) (*xmlquery.Node, error) {
	if resp == nil || resp.doc == nil {
		return nil, ErrNilResponse
	}
	expr, err := xpath.CompileWithNS("/response/wc:info", map[string]string{
		"wc": ResponseNamespacePrefix + method,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: compile info path for %s: %w", method, err)
	}
	node := xmlquery.QuerySelector(resp.doc, expr)
	if node == nil {
		return nil, &ShapeError{Method: method, Reason: "missing info element"}
	}
	if firstElementChild(node) == nil {
		return nil, nil
	}
	return node, nil
}

func firstElementChild(n *xmlquery.Node) *xmlquery.Node {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode {
			return child
		}
	}
	return nil
}
