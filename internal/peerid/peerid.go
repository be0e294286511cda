// Package peerid generates the local 20-byte peer-id used in the handshake
// and tracker announce. Grounded on lvbealr-BitTorrent/torrent/torrent.go's
// GeneratePeerID (fixed prefix + random suffix mapped through a base36
// alphabet), with the random bytes sourced from github.com/google/uuid
// instead of crypto/rand to wire that dependency (already present in the
// pack via khushveer007-tdm) into the domain stack.
package peerid

import (
	"github.com/google/uuid"
)

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Generate builds a 20-byte peer-id: prefix (spec.md's default is
// "-PY0001-", 8 bytes) followed by random alphanumerics filling the
// remainder. If prefix is longer than 20 bytes it is truncated; if shorter,
// the remaining bytes are random.
func Generate(prefix string) [20]byte {
	var id [20]byte
	n := copy(id[:], prefix)

	u := uuid.New()
	raw := u[:]
	for i := n; i < 20; i++ {
		id[i] = alphabet[raw[(i-n)%len(raw)]%byte(len(alphabet))]
	}
	return id
}
