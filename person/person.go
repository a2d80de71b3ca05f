// Package person enumerates the people authorized for the application as a
// forward-only, pull-based paged stream.
package person

import (
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/google/uuid"

	"github.com/openrecord/hvlink/wire"
)

const MethodGetAuthorizedPeople = "GetAuthorizedPeople"

// Person is one authorized person as reported by the service.
type Person struct {
	ID               uuid.UUID
	Name             string
	SelectedRecordID uuid.UUID
}

func parsePerson(node *xmlquery.Node) (Person, error) {
	idNode := node.SelectElement("person-id")
	if idNode == nil {
		return Person{}, &wire.ShapeError{Method: MethodGetAuthorizedPeople, Reason: "person-info missing person-id"}
	}
	id, err := uuid.Parse(strings.TrimSpace(idNode.InnerText()))
	if err != nil {
		return Person{}, &wire.ShapeError{Method: MethodGetAuthorizedPeople, Reason: "bad person-id"}
	}
	p := Person{ID: id}
	if nameNode := node.SelectElement("name"); nameNode != nil {
		p.Name = strings.TrimSpace(nameNode.InnerText())
	}
	if recNode := node.SelectElement("selected-record-id"); recNode != nil {
		rec, err := uuid.Parse(strings.TrimSpace(recNode.InnerText()))
		if err != nil {
			return Person{}, &wire.ShapeError{Method: MethodGetAuthorizedPeople, Reason: "bad selected-record-id"}
		}
		p.SelectedRecordID = rec
	}
	return p, nil
}
