package gateway

import (
	"fmt"
	"hash/fnv"
)

// fingerprint builds the weak ETag for a sync response. It hashes the
// response shape (kind, scope, head sequence, cursor, record count), not the
// payload: the tag is a cheap change-detection signal for clients, not a
// conditional-request key.
func fingerprint(kind, scope string, serverSeq int64, cursor string, count int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d|%s|%d", kind, scope, serverSeq, cursor, count)
	return fmt.Sprintf(`W/"%016x"`, h.Sum64())
}
