// Package query parses the free-text search box and filters map records with it.
package query

import (
	"errors"
	"strings"
	"unicode/utf8"

	"transitty/internal/domain"
)

var ErrInvalidQuery = errors.New("invalid query")

const wildcard = "all"

// Term is one search word. Negated terms exclude every record they match.
type Term struct {
	Value   string
	Negated bool
}

func (t Term) String() string {
	if t.Negated {
		return "!" + t.Value
	}
	return t.Value
}

// Query is an immutable parsed search. The zero value and a nil *Query match
// everything.
type Query struct {
	raw   string
	terms []Term
}

// Parse splits s on whitespace, commas and semicolons. A leading run of '!'
// toggles negation of the word it prefixes.
func Parse(s string) (*Query, error) {
	if !utf8.ValidString(s) {
		return nil, ErrInvalidQuery
	}

	fields := strings.FieldsFunc(s, isSeparator)
	q := &Query{raw: strings.TrimSpace(s), terms: make([]Term, 0, len(fields))}
	for _, f := range fields {
		negated := false
		for strings.HasPrefix(f, "!") {
			negated = !negated
			f = f[1:]
		}
		if f == "" {
			continue
		}
		q.terms = append(q.terms, Term{Value: f, Negated: negated})
	}
	return q, nil
}

// MustParse is like Parse but panics on invalid input.
func MustParse(s string) *Query {
	q, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return q
}

func isSeparator(r rune) bool {
	switch r {
	case ' ', '\t', ',', ';':
		return true
	}
	return false
}

func (q *Query) Terms() []Term {
	if q == nil {
		return nil
	}
	return append([]Term(nil), q.terms...)
}

func (q *Query) Empty() bool {
	return q == nil || len(q.terms) == 0
}

func (q *Query) String() string {
	if q == nil {
		return ""
	}
	return q.raw
}

// Match tests fields against the query. The last partialCount fields are
// matched by substring, the rest by case-insensitive equality.
//
// Partial matching only considers field values of at most two characters.
func (q *Query) Match(fields []string, partialCount int) bool {
	if q.Empty() {
		return true
	}
	if partialCount < 0 {
		partialCount = 0
	}
	if partialCount > len(fields) {
		partialCount = len(fields)
	}
	exact := fields[:len(fields)-partialCount]
	partial := fields[len(fields)-partialCount:]

	matched := false
	for _, term := range q.terms {
		if strings.EqualFold(term.Value, wildcard) {
			matched = true
		}
		for _, f := range exact {
			if strings.EqualFold(f, term.Value) {
				if term.Negated {
					return false
				}
				matched = true
			}
		}
		for _, f := range partial {
			if utf8.RuneCountInString(f) > 2 {
				continue
			}
			if containsFold(f, term.Value) {
				if term.Negated {
					return false
				}
				matched = true
			}
		}
	}
	return matched
}

// MatchRoute matches [type, name, long name]; the long name is partial.
func (q *Query) MatchRoute(t domain.RouteType, name string, r *domain.Route) bool {
	if r == nil {
		return false
	}
	return q.Match([]string{t.String(), name, r.LongName}, 1)
}

// MatchVehicle matches [type, trip id, state, line] exactly.
func (q *Query) MatchVehicle(t domain.RouteType, tripID string, v *domain.Vehicle) bool {
	if v == nil {
		return false
	}
	return q.Match([]string{t.String(), tripID, v.State.String(), v.LineName}, 0)
}

// MatchStop matches the stop's (type, line) pairs and municipality exactly and
// its name partially.
func (q *Query) MatchStop(s *domain.Stop) bool {
	if s == nil {
		return false
	}
	fields := make([]string, 0, len(s.Lines)*2+2)
	for _, l := range s.Lines {
		fields = append(fields, l.Type.String(), l.Name)
	}
	fields = append(fields, s.Municipality, s.Name)
	return q.Match(fields, 1)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
