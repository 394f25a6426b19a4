package docstore

import (
	"crypto/md5"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// EncodedNamedUUID derives the stable document id for an ARN: an MD5
// name-based UUID over the raw UTF-8 bytes, serialized big-endian and
// base64url-encoded without padding. The same ARN always yields the same id,
// which is what makes repeated discovery runs upsert instead of duplicate.
// Existing indices were populated with ids produced by this exact scheme, so
// it must not change.
func EncodedNamedUUID(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("target for encoded named UUID is blank")
	}

	u := uuid.UUID(md5.Sum([]byte(name)))
	u[6] = (u[6] & 0x0f) | 0x30 // version 3
	u[8] = (u[8] & 0x3f) | 0x80 // RFC 4122 variant

	return base64.RawURLEncoding.EncodeToString(u[:]), nil
}
