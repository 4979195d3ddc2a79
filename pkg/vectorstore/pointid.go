package vectorstore

import "github.com/google/uuid"

// pointNamespace scopes name-based point UUIDs. Changing it orphans every
// point already stored in Qdrant.
var pointNamespace = uuid.MustParse("6f1d4c2e-8a3b-5e7f-9c0d-2b4a6e8f1a3c")

// PointUUID maps an opaque point id to a stable UUID. The mapping is not
// relied upon for secrecy.
func PointUUID(id string) string {
	return uuid.NewSHA1(pointNamespace, []byte(id)).String()
}
