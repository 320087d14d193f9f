package metrics

import (
	"fmt"
	"strings"
	"unicode"
)

var friendlyAliases = map[string]string{
	"source.HTTPError":              "HTTP error response",
	"record.ConstructionError":      "Malformed record",
	"url.Error":                     "Request URL error",
	"net.OpError":                   "Network error",
	"context.deadlineExceededError": "Context deadline exceeded",
	"context.deadlineExceeded":      "Context deadline exceeded",
}

// FriendlyErrorName turns a Go type name such as "*source.HTTPError" into a
// label for reports.
func FriendlyErrorName(typeName string) string {
	name := strings.TrimPrefix(strings.TrimSpace(typeName), "*")
	if name == "" {
		return "Unknown error"
	}
	if alias, ok := friendlyAliases[name]; ok {
		return alias
	}

	name = name[strings.LastIndex(name, "/")+1:]
	pkg, typ, found := strings.Cut(name, ".")
	if !found {
		pkg, typ = "", name
	}
	if alias, ok := friendlyAliases[pkg+"."+typ]; ok {
		return alias
	}

	pretty := strings.Join(splitCamel(typ), " ")
	if pretty == "" {
		pretty = typ
	}
	if pkg == "" || pkg == "main" {
		return pretty
	}
	return fmt.Sprintf("%s (%s)", pretty, pkg)
}

// splitCamel splits an identifier into capitalized words, keeping acronyms whole.
func splitCamel(ident string) []string {
	runes := []rune(ident)
	var words []string
	start := 0
	for i := 1; i <= len(runes); i++ {
		boundary := i == len(runes)
		if !boundary {
			prev, r := runes[i-1], runes[i]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			boundary = (unicode.IsUpper(r) && (unicode.IsLower(prev) || (unicode.IsUpper(prev) && nextLower))) ||
				(unicode.IsDigit(r) && !unicode.IsDigit(prev))
		}
		if !boundary {
			continue
		}
		word := string(runes[start:i])
		if strings.ToUpper(word) != word {
			lower := []rune(strings.ToLower(word))
			lower[0] = unicode.ToUpper(lower[0])
			word = string(lower)
		}
		words = append(words, word)
		start = i
	}
	return words
}
