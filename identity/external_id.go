package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// externalIDLength is the number of hex characters kept from the digest.
const externalIDLength = 32

// ExternalID derives a content-based identity key for a listing. Source sites
// have no stable listing IDs of their own, so the same (source, url, area,
// rent) tuple must always map to the same key across runs. Missing fields
// hash as the empty string, which intentionally collapses listings with
// identical url/area/rent scraped with different partial data.
func ExternalID(source, url, area, rentPrice string) string {
	input := fmt.Sprintf("%s:%s:%s:%s", source, url, area, rentPrice)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:externalIDLength]
}
