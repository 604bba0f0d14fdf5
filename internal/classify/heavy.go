package classify

import (
	"regexp"
	"strings"
)

// heavyPatterns match "list everything" style questions whose answers have
// to enumerate catalog content (promotions, agreements, benefits, services)
// and routinely blow the interactive latency budget. This is a latency
// heuristic, not a correctness filter: a false negative only makes the
// customer wait, a false positive only defers a fast answer.
var heavyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(todas?|todos?)\s+(las?|los?)\s+(promo|convenio|beneficio|servicio)`), // "todas las promos"
	regexp.MustCompile(`\b(qu[eé]|cuales?|cuantas?)\s+(promo|convenio|beneficio|servicio)`),     // "que promos hay"
	regexp.MustCompile(`\b(hay|tienen?|ofrecen?)\s+(alguna?s?)?\s*(promo|convenio|beneficio)`),  // "hay promos"
	regexp.MustCompile(`\b(alg[uú]n)\s+(convenio|promo|beneficio)`),                             // "algún convenio"
	regexp.MustCompile(`\b(lista|listar|mostrar|decir)\s+(las?|los?|todas?|todos?)`),            // "lista todos"
	regexp.MustCompile(`\b(que|cuales)\s+(son|hay)\s+(las?|los?)`),                              // "que son los convenios"
}

// IsHeavy reports whether query needs exhaustive enumeration and should be
// answered off the synchronous path. First matching pattern wins.
func IsHeavy(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return false
	}
	for _, re := range heavyPatterns {
		if re.MatchString(q) {
			return true
		}
	}
	return false
}
