package query

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/pubgraph/backend/pkg/common"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

var (
	// ErrUnsafeQuery is returned for Cypher that could modify the graph or
	// call procedures.
	ErrUnsafeQuery = errors.New("only read-only MATCH, WITH and RETURN queries are allowed")
	// ErrUnsupported is returned by backends that cannot run raw Cypher.
	ErrUnsupported = errors.New("cypher queries are not supported by this graph backend")
	// ErrUnavailable is returned when the graph database cannot be reached.
	ErrUnavailable = errors.New("the database is not available, please ensure the connection is started and working and try again")
	ErrEmptyQuery  = errors.New("either text or cypher must be set")
)

// Request is a query issued by the web layer. Exactly one of Text and Cypher
// is used; Cypher wins when both are set.
type Request struct {
	Text   string `json:"text"`
	Cypher string `json:"cypher"`
	Limit  int    `json:"limit" validate:"gte=0,lte=500"`
}

// Normalize trims the request, applies the default limit and checks that
// there is something to run.
func (r Request) Normalize() (Request, error) {
	r.Text = strings.TrimSpace(r.Text)
	r.Cypher = strings.TrimSpace(r.Cypher)
	if r.Text == "" && r.Cypher == "" {
		return r, ErrEmptyQuery
	}
	if r.Limit <= 0 {
		r.Limit = DefaultLimit
	}
	if r.Limit > MaxLimit {
		r.Limit = MaxLimit
	}
	if r.Cypher != "" && !IsSafeCypher(r.Cypher) {
		return r, ErrUnsafeQuery
	}
	return r, nil
}

// GraphQuerier answers web layer queries with a node/edge result set.
type GraphQuerier interface {
	// Query runs a free text search over article titles, abstracts and entity
	// names and returns the matches with their direct neighbours, or runs a
	// read-only Cypher query.
	Query(ctx context.Context, req Request) (*common.GraphResult, error)
	// Neighbourhood returns an article with everything one hop away.
	Neighbourhood(ctx context.Context, articleID string, limit int) (*common.GraphResult, error)
}

// SyntaxError is returned when the database rejects a submitted query.
type SyntaxError struct {
	Message string
}

func (e *SyntaxError) Error() string {
	return "invalid syntax for submitted cypher query: " + e.Message
}

var (
	lineComment   = regexp.MustCompile(`(?m)//.*$`)
	blockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	literal       = regexp.MustCompile(`'(?:[^'\\]|\\.)*'|"(?:[^"\\]|\\.)*"`)
	procedureCall = regexp.MustCompile(`(?i)\bCALL\s+(dbms|apoc|db|gds)\b`)
	writeClause   = regexp.MustCompile(`(?i)\b(CREATE|MERGE|DELETE|DETACH|SET|REMOVE|DROP|LOAD\s+CSV|FOREACH|GRANT|REVOKE|DENY)\b`)
)

// IsSafeCypher reports whether a Cypher query only reads. The query must
// start with MATCH, OPTIONAL MATCH, WITH or RETURN, must not call system or
// plugin procedures and must not contain write clauses outside of string
// literals.
func IsSafeCypher(q string) bool {
	code := literal.ReplaceAllString(q, "''")
	code = blockComment.ReplaceAllString(code, " ")
	code = lineComment.ReplaceAllString(code, "")
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}

	upper := strings.ToUpper(code)
	allowed := false
	for _, prefix := range []string{"MATCH", "OPTIONAL MATCH", "WITH", "RETURN"} {
		if strings.HasPrefix(upper, prefix) {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}

	if procedureCall.MatchString(code) || writeClause.MatchString(code) {
		return false
	}
	return !strings.Contains(code, ";")
}
