package xlsxml

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// CoreProperties holds the document properties the scanner reports.
type CoreProperties struct {
	Creator        string
	LastModifiedBy string
	Created        string
	Modified       string
}

// LastAuthor prefers lastModifiedBy and falls back to the creator.
func (p CoreProperties) LastAuthor() string {
	if p.LastModifiedBy != "" {
		return p.LastModifiedBy
	}
	return p.Creator
}

// CoreProperties reads docProps/core.xml. A workbook without the part
// returns empty properties.
func (r *Reader) CoreProperties() (CoreProperties, error) {
	var props CoreProperties
	if !r.has(partCore) {
		return props, nil
	}
	var (
		field string
		text  strings.Builder
	)
	err := r.decode(partCore, func(_ *xml.Decoder, tok xml.Token) error {
		switch t := tok.(type) {
		case xml.StartElement:
			field = t.Name.Local
			text.Reset()
		case xml.CharData:
			if field != "" {
				text.Write(t)
			}
		case xml.EndElement:
			value := strings.TrimSpace(text.String())
			switch t.Name.Local {
			case "creator":
				props.Creator = value
			case "lastModifiedBy":
				props.LastModifiedBy = value
			case "created":
				props.Created = value
			case "modified":
				props.Modified = value
			}
			field = ""
		}
		return nil
	})
	return props, err
}

// ExternalRefs returns the target path of every external-link part, keyed
// by the part's number. The target is read from a url/target attribute in
// the part itself, then from the part's relationships. An unresolved link
// maps to "".
func (r *Reader) ExternalRefs() (map[int]string, error) {
	refs := map[int]string{}
	for n := 1; ; n++ {
		part := fmt.Sprintf("xl/externalLinks/externalLink%d.xml", n)
		if !r.has(part) {
			break
		}
		target, err := r.embeddedTarget(part)
		if err != nil {
			return nil, err
		}
		if target == "" {
			target = r.relationshipTarget(n)
		}
		refs[n] = target
	}
	return refs, nil
}

func (r *Reader) embeddedTarget(part string) (string, error) {
	var target string
	err := r.decode(part, func(_ *xml.Decoder, tok xml.Token) error {
		start, ok := tok.(xml.StartElement)
		if !ok {
			return nil
		}
		for _, attr := range start.Attr {
			switch strings.ToLower(attr.Name.Local) {
			case "url", "target", "href":
				if v := strings.TrimSpace(attr.Value); v != "" {
					target = v
					return errStop
				}
			}
		}
		return nil
	})
	return target, err
}

func (r *Reader) relationshipTarget(n int) string {
	rels, err := r.relationships(fmt.Sprintf("xl/externalLinks/_rels/externalLink%d.xml.rels", n), "")
	if err != nil {
		return ""
	}
	var first string
	for _, target := range rels {
		if first == "" || target < first {
			first = target
		}
	}
	return first
}
