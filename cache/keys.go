package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/tablekit/tablekit/engine"
	"github.com/tablekit/tablekit/params"
)

// Key builds the deterministic cache key for one operation:
// <opPrefix>:<resource>:<hash of canonical parameter + context encoding>.
// encoding/json serializes struct fields in declaration order and map keys
// sorted, so parameter objects that are deep-equal up to key order always
// produce identical keys.
func Key(op, resource string, p *params.Params, rc *engine.RequestContext) string {
	encoded, err := json.Marshal(struct {
		Params  *params.Params         `json:"params"`
		Context *engine.RequestContext `json:"context"`
	}{p, rc})
	if err != nil {
		// Params and RequestContext hold only marshalable types; treat a
		// failure as an empty discriminator rather than panicking
		encoded = nil
	}

	hash := sha256.Sum256(encoded)
	return fmt.Sprintf("%s:%s:%s", op, resource, hex.EncodeToString(hash[:16]))
}
