package classify

import "testing"

func TestWantsHuman(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"hablar con humano", true},
		{"quiero hablar con una persona", true},
		{"Quiero Hablar Con Una PERSONA", true},
		{"necesito hablar con persona por favor", true},
		{"human agent please", true},
		{"me pueden dar soporte humano?", true},
		{"esto no funciona", true},

		{"cuanto cuesta?", false},
		{"¿cuánto cuesta el producto?", false},
		{"hola, buenos dias", false},
		{"cual es el horario?", false},
		{"", false},
	}

	for _, tc := range cases {
		if got := WantsHuman(tc.text); got != tc.want {
			t.Errorf("WantsHuman(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
