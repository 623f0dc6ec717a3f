package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns a prefixed, time-ordered unique id such as
// "ord-1756713600000000000-9f2a...". The prefix makes entity types obvious
// in logs and audit trails.
func New(prefix string) string {
	nanos := time.Now().UnixNano()
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, nanos)
	}
	return fmt.Sprintf("%s-%d-%s", prefix, nanos, hex.EncodeToString(buf))
}
