// Package ddl parses FileMaker server-side GetTableDDL() output into
// structured field definitions, and applies the tier classification
// heuristic used throughout the schema store.
package ddl

import (
	"regexp"
	"strings"
)

// SemanticType is the closed vocabulary of field types the core reasons
// about (spec §3, replacing the source's string type tags).
type SemanticType string

const (
	SemanticText     SemanticType = "text"
	SemanticNumber   SemanticType = "number"
	SemanticDecimal  SemanticType = "decimal"
	SemanticBoolean  SemanticType = "boolean"
	SemanticDate     SemanticType = "date"
	SemanticDatetime SemanticType = "datetime"
	SemanticBinary   SemanticType = "binary"
	SemanticUnknown  SemanticType = "unknown"
)

// Tier classifies how a field should be surfaced to the caller.
type Tier string

const (
	TierKey      Tier = "key"
	TierStandard Tier = "standard"
	TierInternal Tier = "internal"
)

// FieldDef describes one field of a table.
type FieldDef struct {
	Name        string
	Type        SemanticType
	Tier        Tier
	PK          bool
	FK          bool
	Description string
}

// Annotations holds the $metadata-derived flags for one field, consumed by
// tier assignment and description population (spec §4.4 step 4).
type Annotations struct {
	Calculation bool
	Summary     bool
	Global      bool
	Comment     string
}

// TableSchema maps field name to field definition.
type TableSchema map[string]*FieldDef

var (
	createTableRe = regexp.MustCompile(`(?is)CREATE\s+TABLE\s+"([^"]+)"\s*\((.*?)\);`)
	fieldRe       = regexp.MustCompile(`(?i)"([^"]+)"\s+(varchar\(\d+\)|int|datetime|varbinary\(\d+\))`)
	pkRe          = regexp.MustCompile(`(?i)PRIMARY\s+KEY\s*\(([^)]+)\)`)
	fkRe          = regexp.MustCompile(`(?i)FOREIGN\s+KEY\s*\(([^)]+)\)`)
)

var typeMap = map[string]SemanticType{
	"varchar":   SemanticText,
	"int":       SemanticNumber,
	"datetime":  SemanticDatetime,
	"varbinary": SemanticBinary,
}

func mapType(sqlType string) SemanticType {
	base := strings.ToLower(sqlType)
	if i := strings.Index(base, "("); i >= 0 {
		base = base[:i]
	}
	if t, ok := typeMap[base]; ok {
		return t
	}
	return SemanticText
}

// AssignTier applies the tier-classification priority chain: name-based
// key prefixes win outright, then annotations, then remaining name
// heuristics, defaulting to standard.
func AssignTier(fieldName string, ann *Annotations) Tier {
	if strings.HasPrefix(fieldName, "_kp_") || strings.HasPrefix(fieldName, "_kf_") {
		return TierKey
	}
	if ann != nil && (ann.Calculation || ann.Summary || ann.Global) {
		return TierInternal
	}
	if strings.HasPrefix(fieldName, "_sp_") {
		return TierInternal
	}
	if len(fieldName) > 1 && fieldName[0] == 'g' && fieldName[1] >= 'A' && fieldName[1] <= 'Z' {
		return TierInternal
	}
	if strings.HasPrefix(fieldName, "G_") {
		return TierInternal
	}
	return TierStandard
}

// ParseDDL parses raw DDL text (one or more CREATE TABLE statements) into
// per-table field definitions. annotations, if non-nil, supplies per-table
// per-field $metadata annotations used for tier classification and
// description population.
func ParseDDL(ddlText string, annotations map[string]map[string]*Annotations) map[string]TableSchema {
	tables := make(map[string]TableSchema)
	if strings.TrimSpace(ddlText) == "" {
		return tables
	}

	for _, match := range createTableRe.FindAllStringSubmatch(ddlText, -1) {
		tableName := match[1]
		body := match[2]

		pkFields := extractKeyList(pkRe, body)
		fkFields := extractKeyList(fkRe, body)
		tableAnn := annotations[tableName]

		fields := make(TableSchema)
		for _, fm := range fieldRe.FindAllStringSubmatch(body, -1) {
			fieldName, sqlType := fm[1], fm[2]
			var fieldAnn *Annotations
			if tableAnn != nil {
				fieldAnn = tableAnn[fieldName]
			}

			fd := &FieldDef{
				Name: fieldName,
				Type: mapType(sqlType),
				Tier: AssignTier(fieldName, fieldAnn),
			}
			if fieldAnn != nil && fieldAnn.Comment != "" {
				fd.Description = fieldAnn.Comment
			}
			if pkFields[fieldName] {
				fd.PK = true
			}
			if fkFields[fieldName] {
				fd.FK = true
			}
			if strings.HasPrefix(fieldName, "_kp_") {
				fd.PK = true
			}
			if strings.HasPrefix(fieldName, "_kf_") {
				fd.FK = true
			}

			fields[fieldName] = fd
		}

		tables[tableName] = fields
	}

	return tables
}

func extractKeyList(re *regexp.Regexp, body string) map[string]bool {
	out := make(map[string]bool)
	for _, m := range re.FindAllStringSubmatch(body, -1) {
		for _, name := range strings.Split(m[1], ",") {
			name = strings.Trim(strings.TrimSpace(name), `"`)
			if name != "" {
				out[name] = true
			}
		}
	}
	return out
}

// CreateTableNames extracts only the base-table names from DDL text,
// without parsing fields — used to intersect against the service
// document's entity-set list (spec §4.4 step 3).
func CreateTableNames(ddlText string) []string {
	var names []string
	for _, m := range createTableRe.FindAllStringSubmatch(ddlText, -1) {
		names = append(names, m[1])
	}
	return names
}
