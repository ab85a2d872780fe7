package xid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New returns "<prefix>_<uuidv7>". UUIDv7 keeps ids roughly time ordered,
// which the listing queries rely on as a tie breaker.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixNano(), uuid.NewString())
	}
	return prefix + "_" + id.String()
}
