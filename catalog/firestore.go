package catalog

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"cloud.google.com/go/firestore"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	patientsCollection  = "patients"
	studiesCollection   = "studies"
	seriesCollection    = "series"
	instancesCollection = "instances"
)

// studyLockShards sizes the mutex pool serializing aggregate merges. Hash
// collisions only cost contention, never correctness.
const studyLockShards = 64

// FirestoreCatalog implements Store on Firestore. Documents are keyed by
// their natural DICOM identifiers (globally unique by the standard), with
// user_id stored on every document for tenant scoping.
type FirestoreCatalog struct {
	client *firestore.Client

	// Aggregate merges are a read-modify-write on the study document. The
	// Firestore transaction already serializes committers, but the shard
	// mutex keeps in-process batches from contending and retrying. A fixed
	// pool keyed by study-UID hash stays bounded no matter how many studies
	// pass through the process.
	studyLocks [studyLockShards]sync.Mutex
}

// NewFirestoreCatalog wraps an already-constructed Firestore client.
func NewFirestoreCatalog(client *firestore.Client) *FirestoreCatalog {
	return &FirestoreCatalog{client: client}
}

// Close releases the underlying Firestore client.
func (c *FirestoreCatalog) Close() error {
	return c.client.Close()
}

func (c *FirestoreCatalog) lockStudy(studyUID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(studyUID))
	return &c.studyLocks[h.Sum32()%studyLockShards]
}

// docID makes a natural key safe to use as a Firestore document ID
// (document IDs cannot contain slashes; some patient IDs do).
func docID(naturalKey string) string {
	return escapeSegment(naturalKey)
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == codes.NotFound
}

// GetOrCreatePatient creates the patient document on first sight. When the
// document already exists, demographic fields that are still blank are
// backfilled from p; populated fields are never overwritten.
func (c *FirestoreCatalog) GetOrCreatePatient(ctx context.Context, p *Patient) error {
	ref := c.client.Collection(patientsCollection).Doc(docID(p.PatientID))

	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return tx.Set(ref, p)
			}
			return err
		}

		var existing Patient
		if err := snap.DataTo(&existing); err != nil {
			return err
		}
		if existing.UserID != p.UserID {
			return fmt.Errorf("patient %s exists under another user", p.PatientID)
		}

		var updates []firestore.Update
		backfill := []struct {
			path     string
			stored   string
			incoming string
		}{
			{"patient_name", existing.Name, p.Name},
			{"patient_sex", existing.Sex, p.Sex},
			{"patient_age", existing.Age, p.Age},
			{"patient_weight", existing.Weight, p.Weight},
			{"ethnic_group", existing.EthnicGroup, p.EthnicGroup},
			{"patient_birth_date", existing.BirthDate, p.BirthDate},
		}
		for _, f := range backfill {
			if f.stored == "" && f.incoming != "" {
				updates = append(updates, firestore.Update{Path: f.path, Value: f.incoming})
			}
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Update(ref, updates)
	})
	if err != nil {
		return &PersistenceError{Op: fmt.Sprintf("get-or-create patient (%s)", p.PatientID), Err: err}
	}
	return nil
}

// GetOrCreateStudy creates the study document on first sight. An existing
// study is left entirely untouched; aggregates change only via
// MergeStudyAggregates.
func (c *FirestoreCatalog) GetOrCreateStudy(ctx context.Context, s *Study) error {
	ref := c.client.Collection(studiesCollection).Doc(docID(s.StudyInstanceUID))

	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return tx.Set(ref, s)
			}
			return err
		}
		var existing Study
		if err := snap.DataTo(&existing); err != nil {
			return err
		}
		if existing.UserID != s.UserID {
			return fmt.Errorf("study %s exists under another user", s.StudyInstanceUID)
		}
		return nil
	})
	if err != nil {
		return &PersistenceError{Op: fmt.Sprintf("get-or-create study (%s)", s.StudyInstanceUID), Err: err}
	}
	return nil
}

// GetOrCreateSeries creates the series document on first sight.
func (c *FirestoreCatalog) GetOrCreateSeries(ctx context.Context, se *Series) error {
	ref := c.client.Collection(seriesCollection).Doc(docID(se.SeriesInstanceUID))

	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return tx.Set(ref, se)
			}
			return err
		}
		var existing Series
		if err := snap.DataTo(&existing); err != nil {
			return err
		}
		if existing.UserID != se.UserID {
			return fmt.Errorf("series %s exists under another user", se.SeriesInstanceUID)
		}
		return nil
	})
	if err != nil {
		return &PersistenceError{Op: fmt.Sprintf("get-or-create series (%s)", se.SeriesInstanceUID), Err: err}
	}
	return nil
}

// UpsertInstance writes the full instance document, overwriting any previous
// record with the same SOP Instance UID (overwrite-wins).
func (c *FirestoreCatalog) UpsertInstance(ctx context.Context, in *Instance) error {
	ref := c.client.Collection(instancesCollection).Doc(docID(in.SOPInstanceUID))
	if _, err := ref.Set(ctx, in); err != nil {
		return &PersistenceError{Op: fmt.Sprintf("upsert instance (%s)", in.SOPInstanceUID), Err: err}
	}
	return nil
}

// MergeStudyAggregates folds one batch into the study's aggregates inside a
// transaction: per-UID sizes are unioned (a re-uploaded UID replaces its own
// previous size, never adds to it), series UIDs are deduplicated, and the
// instance count and byte total are recomputed from the merged map.
func (c *FirestoreCatalog) MergeStudyAggregates(ctx context.Context, userID, studyUID string, agg BatchAggregate) error {
	l := c.lockStudy(studyUID)
	l.Lock()
	defer l.Unlock()

	ref := c.client.Collection(studiesCollection).Doc(docID(studyUID))

	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var st Study
		if err := snap.DataTo(&st); err != nil {
			return err
		}
		if st.UserID != userID {
			return fmt.Errorf("study %s exists under another user", studyUID)
		}

		if st.InstanceSizes == nil {
			st.InstanceSizes = make(map[string]int64, len(agg.InstanceSizes))
		}
		for sopUID, size := range agg.InstanceSizes {
			st.InstanceSizes[sopUID] = size
		}

		seen := make(map[string]struct{}, len(st.SeriesInstanceUIDs))
		for _, uid := range st.SeriesInstanceUIDs {
			seen[uid] = struct{}{}
		}
		for _, uid := range agg.SeriesInstanceUIDs {
			if _, ok := seen[uid]; !ok {
				seen[uid] = struct{}{}
				st.SeriesInstanceUIDs = append(st.SeriesInstanceUIDs, uid)
			}
		}

		st.NumSeries = len(st.SeriesInstanceUIDs)
		st.NumInstances = len(st.InstanceSizes)
		var total int64
		for _, size := range st.InstanceSizes {
			total += size
		}
		st.TotalSizeBytes = total

		return tx.Set(ref, &st)
	})
	if err != nil {
		return &PersistenceError{Op: fmt.Sprintf("merge study aggregates (%s)", studyUID), Err: err}
	}
	return nil
}

// GetPatient returns (nil, nil) when the patient is absent or owned by a
// different user.
func (c *FirestoreCatalog) GetPatient(ctx context.Context, userID, patientID string) (*Patient, error) {
	snap, err := c.client.Collection(patientsCollection).Doc(docID(patientID)).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, &PersistenceError{Op: fmt.Sprintf("get patient (%s)", patientID), Err: err}
	}
	var p Patient
	if err := snap.DataTo(&p); err != nil {
		return nil, &PersistenceError{Op: fmt.Sprintf("decode patient (%s)", patientID), Err: err}
	}
	if p.UserID != userID {
		return nil, nil
	}
	return &p, nil
}

// GetStudy returns (nil, nil) when the study is absent or owned by a
// different user.
func (c *FirestoreCatalog) GetStudy(ctx context.Context, userID, studyUID string) (*Study, error) {
	snap, err := c.client.Collection(studiesCollection).Doc(docID(studyUID)).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, &PersistenceError{Op: fmt.Sprintf("get study (%s)", studyUID), Err: err}
	}
	var s Study
	if err := snap.DataTo(&s); err != nil {
		return nil, &PersistenceError{Op: fmt.Sprintf("decode study (%s)", studyUID), Err: err}
	}
	if s.UserID != userID {
		return nil, nil
	}
	return &s, nil
}

// FindInstanceByFileKey looks an instance up by its storage key, scoped to
// the user.
func (c *FirestoreCatalog) FindInstanceByFileKey(ctx context.Context, userID, fileKey string) (*Instance, error) {
	snaps, err := c.client.Collection(instancesCollection).
		Where("user_id", "==", userID).
		Where("file_key", "==", fileKey).
		Limit(1).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, &PersistenceError{Op: fmt.Sprintf("find instance by file key (%s)", fileKey), Err: err}
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	var in Instance
	if err := snaps[0].DataTo(&in); err != nil {
		return nil, &PersistenceError{Op: fmt.Sprintf("decode instance (%s)", fileKey), Err: err}
	}
	return &in, nil
}

// ListPatients returns every patient under the user.
func (c *FirestoreCatalog) ListPatients(ctx context.Context, userID string) ([]*Patient, error) {
	snaps, err := c.client.Collection(patientsCollection).
		Where("user_id", "==", userID).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, &PersistenceError{Op: "list patients", Err: err}
	}
	out := make([]*Patient, 0, len(snaps))
	for _, snap := range snaps {
		var p Patient
		if err := snap.DataTo(&p); err != nil {
			return nil, &PersistenceError{Op: "decode patient", Err: err}
		}
		out = append(out, &p)
	}
	return out, nil
}

// ListStudiesByPatient returns every study under the patient, scoped to the user.
func (c *FirestoreCatalog) ListStudiesByPatient(ctx context.Context, userID, patientID string) ([]*Study, error) {
	snaps, err := c.client.Collection(studiesCollection).
		Where("user_id", "==", userID).
		Where("patient_id", "==", patientID).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, &PersistenceError{Op: fmt.Sprintf("list studies (%s)", patientID), Err: err}
	}
	out := make([]*Study, 0, len(snaps))
	for _, snap := range snaps {
		var s Study
		if err := snap.DataTo(&s); err != nil {
			return nil, &PersistenceError{Op: "decode study", Err: err}
		}
		out = append(out, &s)
	}
	return out, nil
}

// ListSeriesByStudy returns every series under the study, scoped to the user.
func (c *FirestoreCatalog) ListSeriesByStudy(ctx context.Context, userID, studyUID string) ([]*Series, error) {
	snaps, err := c.client.Collection(seriesCollection).
		Where("user_id", "==", userID).
		Where("study_instance_uid", "==", studyUID).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, &PersistenceError{Op: fmt.Sprintf("list series (%s)", studyUID), Err: err}
	}
	out := make([]*Series, 0, len(snaps))
	for _, snap := range snaps {
		var se Series
		if err := snap.DataTo(&se); err != nil {
			return nil, &PersistenceError{Op: "decode series", Err: err}
		}
		out = append(out, &se)
	}
	return out, nil
}

// ListInstancesByStudy returns every instance under the study, scoped to the user.
func (c *FirestoreCatalog) ListInstancesByStudy(ctx context.Context, userID, studyUID string) ([]*Instance, error) {
	snaps, err := c.client.Collection(instancesCollection).
		Where("user_id", "==", userID).
		Where("study_instance_uid", "==", studyUID).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, &PersistenceError{Op: fmt.Sprintf("list instances (%s)", studyUID), Err: err}
	}
	out := make([]*Instance, 0, len(snaps))
	for _, snap := range snaps {
		var in Instance
		if err := snap.DataTo(&in); err != nil {
			return nil, &PersistenceError{Op: "decode instance", Err: err}
		}
		out = append(out, &in)
	}
	return out, nil
}

// countDocs runs a keys-only query and returns the number of matches.
func (c *FirestoreCatalog) countDocs(ctx context.Context, q firestore.Query, op string) (int, error) {
	snaps, err := q.Select().Documents(ctx).GetAll()
	if err != nil {
		return 0, &PersistenceError{Op: op, Err: err}
	}
	return len(snaps), nil
}

func (c *FirestoreCatalog) CountInstancesBySeries(ctx context.Context, userID, seriesUID string) (int, error) {
	q := c.client.Collection(instancesCollection).
		Where("user_id", "==", userID).
		Where("series_instance_uid", "==", seriesUID)
	return c.countDocs(ctx, q, fmt.Sprintf("count instances (%s)", seriesUID))
}

func (c *FirestoreCatalog) CountSeriesByStudy(ctx context.Context, userID, studyUID string) (int, error) {
	q := c.client.Collection(seriesCollection).
		Where("user_id", "==", userID).
		Where("study_instance_uid", "==", studyUID)
	return c.countDocs(ctx, q, fmt.Sprintf("count series (%s)", studyUID))
}

func (c *FirestoreCatalog) CountStudiesByPatient(ctx context.Context, userID, patientID string) (int, error) {
	q := c.client.Collection(studiesCollection).
		Where("user_id", "==", userID).
		Where("patient_id", "==", patientID)
	return c.countDocs(ctx, q, fmt.Sprintf("count studies (%s)", patientID))
}

// DeleteInstances removes instance documents by SOP UID. Callers pass UIDs
// they already resolved under this user.
func (c *FirestoreCatalog) DeleteInstances(ctx context.Context, userID string, sopUIDs []string) error {
	for _, uid := range sopUIDs {
		ref := c.client.Collection(instancesCollection).Doc(docID(uid))
		if _, err := ref.Delete(ctx); err != nil {
			return &PersistenceError{Op: fmt.Sprintf("delete instance (%s)", uid), Err: err}
		}
	}
	return nil
}

func (c *FirestoreCatalog) DeleteSeries(ctx context.Context, userID, seriesUID string) error {
	if _, err := c.client.Collection(seriesCollection).Doc(docID(seriesUID)).Delete(ctx); err != nil {
		return &PersistenceError{Op: fmt.Sprintf("delete series (%s)", seriesUID), Err: err}
	}
	return nil
}

func (c *FirestoreCatalog) DeleteStudy(ctx context.Context, userID, studyUID string) error {
	if _, err := c.client.Collection(studiesCollection).Doc(docID(studyUID)).Delete(ctx); err != nil {
		return &PersistenceError{Op: fmt.Sprintf("delete study (%s)", studyUID), Err: err}
	}
	return nil
}

func (c *FirestoreCatalog) DeletePatient(ctx context.Context, userID, patientID string) error {
	if _, err := c.client.Collection(patientsCollection).Doc(docID(patientID)).Delete(ctx); err != nil {
		return &PersistenceError{Op: fmt.Sprintf("delete patient (%s)", patientID), Err: err}
	}
	return nil
}
