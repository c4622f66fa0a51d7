package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewNumber builds a human-legible order number: MC-YYYYMMDD-XXXXXXXXXXXX,
// where the tail is a random uuid fragment. Uniqueness is backed by a unique
// index in the store; stores regenerate on the (vanishingly rare) collision.
func NewNumber(now time.Time) string {
	tail := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:12]
	return fmt.Sprintf("MC-%s-%s", now.UTC().Format("20060102"), tail)
}
