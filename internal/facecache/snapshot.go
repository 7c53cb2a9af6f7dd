package facecache

import (
	"sync"
	"time"

	"github.com/kozaktomas/campus-attendance/internal/database"
)

// Snapshot is an immutable set of registered faces shared by concurrent readers.
type Snapshot struct {
	identities []database.StoredIdentity
	loadedAt   time.Time
	version    database.RegistryVersion

	indexOnce sync.Once
	idx       *index
	indexDim  int
}

func newSnapshot(identities []database.StoredIdentity, loadedAt time.Time, version database.RegistryVersion) *Snapshot {
	return &Snapshot{identities: identities, loadedAt: loadedAt, version: version}
}

// Identities returns the faces in registration order. Callers must not modify
// the returned slice.
func (s *Snapshot) Identities() []database.StoredIdentity {
	return s.identities
}

// Len returns the number of faces in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.identities)
}

// LoadedAt returns when the snapshot was read from the store.
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

// Version returns the registry version the snapshot was loaded at.
func (s *Snapshot) Version() database.RegistryVersion {
	return s.version
}

// IDs returns the identity ids in registration order.
func (s *Snapshot) IDs() []string {
	ids := make([]string, len(s.identities))
	for i := range s.identities {
		ids[i] = s.identities[i].IdentityID
	}
	return ids
}

// Nearest returns positions of up to k approximate nearest neighbours of
// query under cosine distance. The index is built on first use with the
// dimension of the first query.
func (s *Snapshot) Nearest(query []float32, k int) []int {
	s.indexOnce.Do(func() {
		s.indexDim = len(query)
		s.idx = buildIndex(s.identities, s.indexDim)
	})
	return s.idx.search(query, k)
}
