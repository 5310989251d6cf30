package orders

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// maxNumberAttempts bounds regeneration after an order_number collision.
const maxNumberAttempts = 3

// NewOrderNumber renders ORD-<last 8 digits of unix ms>-<6 char suffix>.
func NewOrderNumber(now time.Time) string {
	id := ulid.Make().String()
	return fmt.Sprintf("ORD-%08d-%s", now.UnixMilli()%100_000_000, id[len(id)-6:])
}
