package database

// HNSW index parameters for face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// so the exact consensus pass still sees enough of them.
	HNSWSearchMultiplier = 3
)

// Driver names accepted in DATABASE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverMariaDB  = "mariadb"
	DriverMemory   = "memory"
)

// DefaultSessions are the session definitions every new store starts with.
// The SQL backends seed the same rows in their initial migrations.
func DefaultSessions() []SessionDefinition {
	return []SessionDefinition{
		{
			Name:          "morning",
			StartTime:     MustParseTimeOfDay("08:00"),
			EndTime:       MustParseTimeOfDay("12:00"),
			LateThreshold: MustParseTimeOfDay("09:00"),
			IsActive:      true,
		},
		{
			Name:          "afternoon",
			StartTime:     MustParseTimeOfDay("13:00"),
			EndTime:       MustParseTimeOfDay("17:00"),
			LateThreshold: MustParseTimeOfDay("13:15"),
			IsActive:      true,
		},
	}
}
