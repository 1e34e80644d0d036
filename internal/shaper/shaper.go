// Package shaper rewrites AI-generated OData filter/select/orderby text
// into the shapes the target FileMaker OData endpoint accepts. All
// functions here are pure string transforms: no I/O, no shared state.
package shaper

import (
	"regexp"
	"strings"
)

var (
	isoTimestampRe = regexp.MustCompile(`(['"]?)(\d{4}-\d{2}-\d{2})T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?(['"]?)`)
	isoDateQuotedRe = regexp.MustCompile(`['"](\d{4}-\d{2}-\d{2})['"]`)
	usDateRe        = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})(?:\s+\d{1,2}:\d{2}(?::\d{2})?)?\b`)
)

// NormalizeDatesInFilter reduces date literals in an OData filter expression
// to bare ISO-8601 (YYYY-MM-DD), applying four transformations in order:
// strip quotes around ISO-shaped literals, strip time-and-zone suffixes from
// ISO datetimes, convert US M/D/YYYY literals to ISO form, then re-strip any
// quotes left around the converted literals. Idempotent.
func NormalizeDatesInFilter(filter string) string {
	if filter == "" {
		return ""
	}

	s := filter

	// (a) + (b): ISO datetime, optionally quoted, with time/zone suffix.
	s = isoTimestampRe.ReplaceAllString(s, "$2")

	// (c): US date literal M/D/YYYY[ clock-time] -> ISO.
	s = usDateRe.ReplaceAllStringFunc(s, func(m string) string {
		parts := usDateRe.FindStringSubmatch(m)
		month, day, year := parts[1], parts[2], parts[3]
		if len(month) == 1 {
			month = "0" + month
		}
		if len(day) == 1 {
			day = "0" + day
		}
		return year + "-" + month + "-" + day
	})

	// (d): re-strip quotes that now surround converted ISO literals.
	s = isoDateQuotedRe.ReplaceAllString(s, "$1")

	return s
}

// QuoteFieldsInSelect double-quotes every field name in a comma-separated
// $select list, trimming whitespace. Already-quoted entries and empty input
// pass through unchanged.
func QuoteFieldsInSelect(sel string) string {
	if strings.TrimSpace(sel) == "" {
		return sel
	}
	parts := strings.Split(sel, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = quoteIdent(strings.TrimSpace(p))
	}
	return strings.Join(out, ",")
}

var orderbyClauseRe = regexp.MustCompile(`^(.+?)(\s+(?:asc|desc))?$`)

// QuoteFieldsInOrderby double-quotes the identifier portion of each
// comma-separated $orderby clause while preserving any trailing " asc"/"
// desc" direction verbatim.
func QuoteFieldsInOrderby(orderby string) string {
	if strings.TrimSpace(orderby) == "" {
		return orderby
	}
	parts := strings.Split(orderby, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		m := orderbyClauseRe.FindStringSubmatch(p)
		if m == nil {
			out[i] = p
			continue
		}
		field, dir := strings.TrimSpace(m[1]), m[2]
		out[i] = quoteIdent(field) + dir
	}
	return strings.Join(out, ",")
}

// quoteIdent double-quotes field as a whole, since FileMaker field names
// routinely contain spaces ("Company Name"). Already-quoted and empty
// tokens pass through unchanged.
func quoteIdent(field string) string {
	if field == "" {
		return field
	}
	if strings.HasPrefix(field, `"`) && strings.HasSuffix(field, `"`) {
		return field
	}
	return `"` + field + `"`
}

var connectiveSplitRe = regexp.MustCompile(`(?i)\s+(and|or)\s+`)

// comparisonLeftRe matches everything before a comparison operator:
// <field> <op> <rest>. The field capture is non-greedy and unrestricted so
// multi-word identifiers ("Company Name eq ...") are captured whole.
// Already-quoted identifiers are skipped so re-application is idempotent.
var comparisonLeftRe = regexp.MustCompile(`^(.*?)(\s+(?:eq|ne|gt|ge|lt|le)\s+)`)

// funcFieldRe matches the first argument of contains/startswith/endswith:
// func(<field>, ...). The field capture excludes only the comma so
// multi-word identifiers survive.
var funcFieldRe = regexp.MustCompile(`^((?:contains|startswith|endswith)\()([^,]+?)(,)`)

// QuoteFieldsInFilter double-quotes field identifiers appearing on the left
// side of a comparison clause or as the first argument of contains,
// startswith, or endswith, leaving literals, operators, and and/or
// connectives untouched. Clauses are split on the connectives, which are
// preserved verbatim.
func QuoteFieldsInFilter(filter string) string {
	if strings.TrimSpace(filter) == "" {
		return filter
	}

	idx := connectiveSplitRe.FindAllStringSubmatchIndex(filter, -1)
	if len(idx) == 0 {
		return quoteClause(filter)
	}

	var b strings.Builder
	prev := 0
	for _, m := range idx {
		clause := filter[prev:m[0]]
		connective := filter[m[2]:m[3]]
		b.WriteString(quoteClause(clause))
		b.WriteString(" ")
		b.WriteString(connective)
		b.WriteString(" ")
		prev = m[1]
	}
	b.WriteString(quoteClause(filter[prev:]))
	return b.String()
}

func quoteClause(clause string) string {
	trimmed := strings.TrimSpace(clause)
	leading := clause[:len(clause)-len(strings.TrimLeft(clause, " \t"))]
	trailing := clause[len(strings.TrimRight(clause, " \t")):]

	if m := funcFieldRe.FindStringSubmatch(trimmed); m != nil {
		rest := trimmed[len(m[0]):]
		return leading + m[1] + quoteIdent(strings.TrimSpace(m[2])) + m[3] + rest + trailing
	}
	if m := comparisonLeftRe.FindStringSubmatch(trimmed); m != nil {
		rest := trimmed[len(m[0]):]
		return leading + quoteIdent(strings.TrimSpace(m[1])) + m[2] + rest + trailing
	}
	return clause
}

// EncodeQueryParams composes an OData query string from params, encoding
// spaces as %20 (never +) and leaving $, comma, slash, and single-quote
// unencoded, matching the server's rejection of + and %24.
func EncodeQueryParams(params map[string]string, order []string) string {
	if len(params) == 0 {
		return ""
	}
	keys := order
	if len(keys) == 0 {
		for k := range params {
			keys = append(keys, k)
		}
	}
	var b strings.Builder
	for i, k := range keys {
		v, ok := params[k]
		if !ok {
			continue
		}
		if i > 0 && b.Len() > 0 {
			b.WriteString("&")
		}
		b.WriteString(encodeParam(k))
		b.WriteString("=")
		b.WriteString(encodeParam(v))
	}
	return b.String()
}

// encodeParam percent-encodes a query parameter key or value the way the FM
// OData server expects: space -> %20, $ , / ' pass through unencoded.
func encodeParam(s string) string {
	const safe = "$,/'"
	var b strings.Builder
	for _, r := range s {
		if r == ' ' {
			b.WriteString("%20")
			continue
		}
		if r < 0x80 && (isUnreserved(byte(r)) || strings.ContainsRune(safe, r)) {
			b.WriteByte(byte(r))
			continue
		}
		for _, bb := range []byte(string(r)) {
			b.WriteString("%")
			b.WriteString(strings.ToUpper(hexByte(bb)))
		}
	}
	return b.String()
}

func isUnreserved(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '-' || b == '_' || b == '.' || b == '~':
		return true
	}
	return false
}

func hexByte(b byte) string {
	const hex = "0123456789abcdef"
	return string([]byte{hex[b>>4], hex[b&0xf]})
}
