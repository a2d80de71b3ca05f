package typecache

import "strings"

// Section is the bitmask selecting optional detail groups of a type
// definition.
type Section uint32

const (
	SectionCore Section = 1 << iota
	SectionXSD
	SectionColumns
	SectionTransforms
	SectionVersions
)

var sectionNames = []struct {
	bit  Section
	name string
}{
	{SectionCore, "core"},
	{SectionXSD, "xsd"},
	{SectionColumns, "columns"},
	{SectionTransforms, "transforms"},
	{SectionVersions, "versions"},
}

// Names returns the wire names of every selected section, in protocol order.
func (s Section) Names() []string {
	var out []string
	for _, entry := range sectionNames {
		if s&entry.bit != 0 {
			out = append(out, entry.name)
		}
	}
	return out
}

func (s Section) String() string {
	names := s.Names()
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}
