package domain

import (
	"strings"

	"github.com/google/uuid"
)

// idNamespace scopes derived identifiers to this ledger.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://mtlprog.xyz/taxledger"))

// NewID returns a random identifier.
func NewID() string {
	return uuid.NewString()
}

// DerivedID returns a stable identifier for a record produced from a source transaction,
// so replaying the same trigger yields the same ids.
func DerivedID(kind string, parts ...string) string {
	name := kind + "|" + strings.Join(parts, "|")
	return uuid.NewSHA1(idNamespace, []byte(name)).String()
}
