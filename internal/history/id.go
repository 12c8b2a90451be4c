package history

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const idTimeLayout = "20060102-150405"

// NewID generates a chat id: a timestamp prefix and a random suffix, e.g.
// "20240115-143052-a1b2c3". Ids sort chronologically.
func NewID() string {
	random := make([]byte, 3)
	rand.Read(random)
	return fmt.Sprintf("%s-%s", time.Now().Format(idTimeLayout), hex.EncodeToString(random))
}

// ParseIDTime extracts the timestamp from an id, or the zero time.
func ParseIDTime(id string) time.Time {
	if len(id) < len(idTimeLayout) {
		return time.Time{}
	}
	t, _ := time.Parse(idTimeLayout, id[:len(idTimeLayout)])
	return t
}

// ShortID shortens an id for listings: "20240115-143052-a1b2c3" -> "240115-1430".
// Ids that do not follow the NewID format are returned unchanged.
func ShortID(id string) string {
	if ParseIDTime(id).IsZero() {
		return id
	}
	return id[2:8] + "-" + id[9:13]
}
