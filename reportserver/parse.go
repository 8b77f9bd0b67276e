package reportserver

import (
	"bytes"
	"strings"

	"github.com/beevik/etree"
)

// Entry is one record's raw column name to value mapping as parsed from a
// feed document. Entries are ephemeral; the field mapper consumes them once.
type Entry map[string]string

// atomMetadataTags are entry children that carry feed plumbing rather than
// record properties.
var atomMetadataTags = map[string]bool{
	"id":       true,
	"title":    true,
	"updated":  true,
	"link":     true,
	"author":   true,
	"category": true,
}

// ParseEntries parses a fetched feed document into property maps, one per
// entry. Namespace prefixes on tags are ignored, and the wrapper shape is
// allowed to vary: properties are looked for under entry/content/properties,
// then entry/content, then the entry element itself. A well-formed document
// with no entries yields an empty result; malformed XML yields a *ParseError.
func ParseEntries(data []byte) ([]Entry, error) {
	data = stripBOM(data)

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, &ParseError{Err: err}
	}
	root := doc.Root()
	if root == nil {
		return []Entry{}, nil
	}

	entries := []Entry{}
	for _, entryEl := range findAllByTag(root, "entry") {
		container := propertyContainer(entryEl)
		entry := Entry{}
		for _, child := range container.ChildElements() {
			if container == entryEl && atomMetadataTags[strings.ToLower(child.Tag)] {
				continue
			}
			entry[child.Tag] = elementText(child)
		}
		if len(entry) > 0 {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// propertyContainer locates the element whose children are the entry's
// property fields.
func propertyContainer(entryEl *etree.Element) *etree.Element {
	if props := findFirstByTag(entryEl, "properties"); props != nil {
		return props
	}
	if content := findFirstByTag(entryEl, "content"); content != nil {
		// A content wrapper with exactly one child usually nests the
		// properties one level down even without the standard tag name.
		children := content.ChildElements()
		if len(children) == 1 && len(children[0].ChildElements()) > 0 {
			return children[0]
		}
		if len(children) > 0 {
			return content
		}
	}
	return entryEl
}

// elementText returns the flattened text value of a property element. Values
// nested one level down (a lone child holding the text) are unwrapped.
func elementText(el *etree.Element) string {
	if text := strings.TrimSpace(el.Text()); text != "" {
		return text
	}
	children := el.ChildElements()
	if len(children) == 1 {
		return elementText(children[0])
	}
	return ""
}

func findAllByTag(el *etree.Element, tag string) []*etree.Element {
	var found []*etree.Element
	for _, child := range el.ChildElements() {
		if strings.EqualFold(child.Tag, tag) {
			found = append(found, child)
			continue
		}
		found = append(found, findAllByTag(child, tag)...)
	}
	return found
}

func findFirstByTag(el *etree.Element, tag string) *etree.Element {
	for _, child := range el.ChildElements() {
		if strings.EqualFold(child.Tag, tag) {
			return child
		}
		if nested := findFirstByTag(child, tag); nested != nil {
			return nested
		}
	}
	return nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, utf8BOM)
}
