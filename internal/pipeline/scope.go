package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"campus-assistant/internal/domain"
)

var errNotList = errors.New("reply is not a list of quoted names")

// parseScope reads a classifier reply such as ['UT_Austin', "UT_Dallas"] and
// returns the canonical campus scope. Unknown names are dropped, duplicates
// keep their first position and any "All" collapses the scope to the
// sentinel. An empty result is returned without error.
func parseScope(reply string) ([]string, error) {
	names, err := parseStringList(stripFences(reply))
	if err != nil {
		return nil, err
	}

	scope := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		campus, ok := domain.CanonicalCampus(name)
		if !ok {
			continue
		}
		if campus == domain.AllCampuses {
			return []string{domain.AllCampuses}, nil
		}
		if _, dup := seen[campus]; dup {
			continue
		}
		seen[campus] = struct{}{}
		scope = append(scope, campus)
	}
	return scope, nil
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimLeft(s, "abcdefghijklmnopqrstuvwxyz")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// parseStringList accepts a single bracketed list of single- or double-quoted
// strings with an optional trailing comma.
func parseStringList(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, errNotList
	}
	body := s[1 : len(s)-1]

	var out []string
	i := 0
	for {
		i = skipSpace(body, i)
		if i >= len(body) {
			return out, nil
		}
		item, next, err := readQuoted(body, i)
		if err != nil {
			return nil, err
		}
		out = append(out, item)

		i = skipSpace(body, next)
		if i >= len(body) {
			return out, nil
		}
		if body[i] != ',' {
			return nil, fmt.Errorf("%w: unexpected %q at offset %d", errNotList, body[i], i)
		}
		i++
	}
}

func readQuoted(s string, i int) (string, int, error) {
	quote := s[i]
	if quote != '\'' && quote != '"' {
		return "", 0, fmt.Errorf("%w: expected quote at offset %d", errNotList, i)
	}
	var b strings.Builder
	for j := i + 1; j < len(s); j++ {
		switch c := s[j]; c {
		case '\\':
			if j+1 < len(s) {
				j++
				b.WriteByte(s[j])
			}
		case quote:
			return b.String(), j + 1, nil
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, fmt.Errorf("%w: unterminated string", errNotList)
}

func skipSpace(s string, i int) int {
	for i < len(s) && strings.ContainsRune(" \t\r\n", rune(s[i])) {
		i++
	}
	return i
}
