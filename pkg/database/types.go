package database

import "time"

// Pagination bounds a listing query (§6 collaborator API).
type Pagination struct {
	Limit  int
	Offset int
}

// Normalize applies safe defaults/bounds, the way the teacher's handler
// layer clamps page sizes before hitting the database.
func (p Pagination) Normalize() Pagination {
	if p.Limit <= 0 || p.Limit > 500 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Filter narrows a listRecent query (§6).
type Filter struct {
	Protocol  string
	Status    string
	SinceTime time.Time
}

// Statistics summarizes the fleet's persisted data for the §6
// statistics() operation.
type Statistics struct {
	TotalTransfers     int64
	PendingCount       int64
	CompletedCount     int64
	FailedCount        int64
	DeadLetteredCount  int64
	HighRiskCount      int64
	AverageRiskScore   float64
}
