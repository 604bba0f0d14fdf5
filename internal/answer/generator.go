// Package answer defines the boundary to the retrieval-augmented answer
// generator. The core never sees provider response shapes; everything is
// normalized to a single string at this boundary.
package answer

import (
	"context"

	"github.com/CoopDesk/CoopDesk/internal/store"
)

// Generator produces an answer for a customer query given the bounded
// conversational history and system instructions. Implementations must
// honor ctx cancellation; callers impose the deadline.
type Generator interface {
	Answer(ctx context.Context, query string, history []store.HistoryTurn, instructions string) (string, error)
}
