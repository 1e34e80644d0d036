// Package metadata parses the OData $metadata CSDL XML document, pulling
// out the subset of EntityType/Property/Annotation structure the schema
// store needs: the Calculation/Summary/Global boolean flags and the
// FMComment description string, per entity type and field.
package metadata

import (
	"encoding/xml"
	"strings"

	"github.com/nietsneuah/fmquery/internal/ddl"
)

type edmx struct {
	XMLName      xml.Name `xml:"Edmx"`
	DataServices struct {
		Schemas []schema `xml:"Schema"`
	} `xml:"DataServices"`
}

type schema struct {
	EntityTypes []entityType `xml:"EntityType"`
}

type entityType struct {
	Name       string     `xml:"Name,attr"`
	Properties []property `xml:"Property"`
}

type property struct {
	Name        string       `xml:"Name,attr"`
	Annotations []annotation `xml:"Annotation"`
}

type annotation struct {
	Term string `xml:"Term,attr"`
	Bool string `xml:"Bool,attr"`
	Str  string `xml:"String,attr"`
}

// ExtractFieldAnnotations parses a $metadata CSDL document and returns, per
// entity type, per property, the recognized annotations. Entity-type names
// ending in an underscore are normalized by stripping the trailing
// underscore (the server emits "Orders_" while DDL uses "Orders"). Malformed
// or empty input yields an empty result rather than an error — annotation
// parsing is best-effort per spec §4.4 step 4.
func ExtractFieldAnnotations(metadataXML string) map[string]map[string]*ddl.Annotations {
	result := make(map[string]map[string]*ddl.Annotations)
	if strings.TrimSpace(metadataXML) == "" {
		return result
	}

	var doc edmx
	if err := xml.Unmarshal([]byte(metadataXML), &doc); err != nil {
		return result
	}

	for _, sch := range doc.DataServices.Schemas {
		for _, et := range sch.EntityTypes {
			name := strings.TrimSuffix(et.Name, "_")
			fields := make(map[string]*ddl.Annotations)

			for _, prop := range et.Properties {
				var ann *ddl.Annotations
				for _, a := range prop.Annotations {
					switch {
					case strings.HasSuffix(a.Term, "Calculation"):
						if a.Bool == "true" {
							ann = ensureAnn(ann)
							ann.Calculation = true
						}
					case strings.HasSuffix(a.Term, "Summary"):
						if a.Bool == "true" {
							ann = ensureAnn(ann)
							ann.Summary = true
						}
					case strings.HasSuffix(a.Term, "Global"):
						if a.Bool == "true" {
							ann = ensureAnn(ann)
							ann.Global = true
						}
					case strings.HasSuffix(a.Term, "FMComment"):
						if a.Str != "" {
							ann = ensureAnn(ann)
							ann.Comment = a.Str
						}
					}
				}
				if ann != nil {
					fields[prop.Name] = ann
				}
			}

			if len(fields) > 0 {
				result[name] = fields
			} else if _, exists := result[name]; !exists {
				result[name] = fields
			}
		}
	}

	return result
}

func ensureAnn(ann *ddl.Annotations) *ddl.Annotations {
	if ann == nil {
		return &ddl.Annotations{}
	}
	return ann
}
