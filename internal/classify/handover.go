// Package classify holds the text classifiers that gate conversation routing.
package classify

import "strings"

// handoverPhrases are the fixed phrases that signal a customer wants a
// human agent. Spanish formal/informal registers plus English equivalents.
// Matching is plain substring over the lower-cased text; adding a phrase
// here changes routing outcomes, so the list is treated as behavior.
var handoverPhrases = []string{
	"hablar con humano", "hablar con una persona", "hablar con alguien",
	"quiero hablar con humano", "necesito hablar con persona",
	"speak to human", "talk to human", "human agent",
	"atención al cliente", "soporte humano", "ayuda humana",
	"no entiendo", "esto no funciona", "problema grave",
	"quiero hablar con un representante", "necesito ayuda humana",
	"contacto humano", "persona real", "agente humano",
}

// WantsHuman reports whether text is a request to be handed over to a
// staff agent. Empty text never triggers a handover.
func WantsHuman(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range handoverPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
