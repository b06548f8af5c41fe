package service

import (
	"github.com/smartcity/trafficcore/internal/domain"
)

// DataRepository is re-exported from domain for convenience
type DataRepository = domain.DataRepository

// SnapshotCache is re-exported from domain for convenience
type SnapshotCache = domain.SnapshotCache
