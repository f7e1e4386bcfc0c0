package catalog

import "context"

// Store is the persistence surface the orchestrators run against. The
// production implementation is FirestoreCatalog; tests substitute an
// in-memory double.
//
// Get* methods return (nil, nil) when the record is absent or belongs to a
// different user; callers treat both identically so ownership never leaks.
type Store interface {
	// GetOrCreatePatient creates the patient if absent. If it already
	// exists, blank stored demographic fields are backfilled from p and
	// everything else is left untouched.
	GetOrCreatePatient(ctx context.Context, p *Patient) error
	// GetOrCreateStudy creates the study if absent; existing descriptive
	// fields and aggregates are never overwritten here.
	GetOrCreateStudy(ctx context.Context, s *Study) error
	// GetOrCreateSeries creates the series if absent.
	GetOrCreateSeries(ctx context.Context, se *Series) error
	// UpsertInstance creates or fully overwrites the instance record keyed
	// by its SOP Instance UID.
	UpsertInstance(ctx context.Context, in *Instance) error

	// MergeStudyAggregates folds one batch's contribution into the study's
	// running aggregates. The read-modify-write is serialized per study, so
	// concurrent batches against the same study cannot lose updates, and a
	// repeated batch is a no-op (set union plus per-UID sizes).
	MergeStudyAggregates(ctx context.Context, userID, studyUID string, agg BatchAggregate) error

	GetPatient(ctx context.Context, userID, patientID string) (*Patient, error)
	GetStudy(ctx context.Context, userID, studyUID string) (*Study, error)
	FindInstanceByFileKey(ctx context.Context, userID, fileKey string) (*Instance, error)

	ListPatients(ctx context.Context, userID string) ([]*Patient, error)
	ListStudiesByPatient(ctx context.Context, userID, patientID string) ([]*Study, error)
	ListSeriesByStudy(ctx context.Context, userID, studyUID string) ([]*Series, error)
	ListInstancesByStudy(ctx context.Context, userID, studyUID string) ([]*Instance, error)

	CountInstancesBySeries(ctx context.Context, userID, seriesUID string) (int, error)
	CountSeriesByStudy(ctx context.Context, userID, studyUID string) (int, error)
	CountStudiesByPatient(ctx context.Context, userID, patientID string) (int, error)

	DeleteInstances(ctx context.Context, userID string, sopUIDs []string) error
	DeleteSeries(ctx context.Context, userID, seriesUID string) error
	DeleteStudy(ctx context.Context, userID, studyUID string) error
	DeletePatient(ctx context.Context, userID, patientID string) error
}
