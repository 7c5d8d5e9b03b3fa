// Package sqlguard cleans model-produced SQL and enforces the read-only and
// row-limit rules every statement must satisfy before it reaches a database.
package sqlguard

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	forbiddenKeywords = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|TRUNCATE|ATTACH|DETACH|PRAGMA|VACUUM|REINDEX|GRANT|REVOKE|MERGE|UPSERT)\b|\bREPLACE\s+INTO\b`)
	trailingLimit     = regexp.MustCompile(`(?is)\bLIMIT\s+(\d+)(?:\s+OFFSET\s+\d+)?\s*$`)
	leadingComment    = regexp.MustCompile(`^(?s)(\s*(--[^\n]*(\n|$)|/\*.*?\*/))*\s*`)
	intoClause        = regexp.MustCompile(`(?i)\bINTO\b`)
)

// UnsafeQueryError reports a statement that could mutate the database.
type UnsafeQueryError struct {
	SQL    string
	Reason string
}

func (e *UnsafeQueryError) Error() string {
	return "unsafe query: " + e.Reason
}

// Clean extracts the SQL statement from free-form model output.
func Clean(raw string) string {
	text := strings.TrimSpace(raw)
	if start := strings.Index(text, "```"); start >= 0 {
		body := text[start+3:]
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		if newline := strings.IndexByte(body, '\n'); newline >= 0 && isFenceLanguage(body[:newline]) {
			body = body[newline+1:]
		} else if strings.HasPrefix(strings.ToLower(body), "sql ") {
			body = body[4:]
		}
		text = strings.TrimSpace(body)
	}
	if idx := strings.Index(text, "SQLQuery:"); idx >= 0 {
		text = text[idx+len("SQLQuery:"):]
	}
	if idx := strings.Index(text, "SQLResult:"); idx >= 0 {
		text = text[:idx]
	}
	return trimStatement(text)
}

func isFenceLanguage(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	for _, r := range line {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return len(line) <= 12 && !strings.EqualFold(line, "select") && !strings.EqualFold(line, "with")
}

func trimStatement(sql string) string {
	sql = strings.TrimSpace(sql)
	for strings.HasSuffix(sql, ";") {
		sql = strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	}
	return sql
}

// CheckReadOnly accepts exactly one SELECT or WITH statement that contains
// none of the data-modifying or schema-changing keywords.
func CheckReadOnly(sql string) error {
	statement := trimStatement(sql)
	if statement == "" {
		return &UnsafeQueryError{SQL: sql, Reason: "empty statement"}
	}
	body := strings.ToLower(leadingComment.ReplaceAllString(statement, ""))
	if !strings.HasPrefix(body, "select") && !strings.HasPrefix(body, "with") {
		return &UnsafeQueryError{SQL: sql, Reason: "only SELECT or WITH statements are allowed"}
	}
	code := maskQuotedAndComments(statement)
	if strings.ContainsRune(code, ';') {
		return &UnsafeQueryError{SQL: sql, Reason: "multiple statements are not allowed"}
	}
	if match := forbiddenKeywords.FindString(statement); match != "" {
		return &UnsafeQueryError{SQL: sql, Reason: fmt.Sprintf("forbidden keyword %q", strings.ToUpper(match))}
	}
	// SELECT ... INTO creates a table in several dialects.
	if intoClause.MatchString(code) {
		return &UnsafeQueryError{SQL: sql, Reason: "SELECT INTO is not allowed"}
	}
	return nil
}

// maskQuotedAndComments blanks comments and the contents of quoted strings and
// identifiers, leaving only the SQL tokens themselves.
func maskQuotedAndComments(statement string) string {
	var out strings.Builder
	out.Grow(len(statement))
	runes := []rune(statement)
	var quote rune
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				out.WriteRune(r)
			} else {
				out.WriteByte(' ')
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
			out.WriteRune(r)
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			out.WriteByte(' ')
			if i < len(runes) {
				out.WriteByte('\n')
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i < len(runes) && !(runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '/') {
				i++
			}
			i++
			out.WriteByte(' ')
		default:
			out.WriteRune(r)
		}
	}
	return out.String()
}

// EffectiveLimit reports the row bound of a trailing LIMIT clause.
func EffectiveLimit(sql string) (int, bool) {
	match := trailingLimit.FindStringSubmatch(trimStatement(sql))
	if match == nil {
		return 0, false
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// EnforceLimit bounds sql to at most limit rows. A limit of zero disables the
// bound.
func EnforceLimit(sql string, limit int) string {
	statement := trimStatement(sql)
	if limit <= 0 {
		return statement
	}
	if n, ok := EffectiveLimit(statement); ok && n <= limit {
		return statement
	}
	return fmt.Sprintf("SELECT * FROM (\n%s\n) AS limited LIMIT %d", statement, limit)
}
