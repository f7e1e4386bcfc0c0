package catalog

import (
	"context"
	"log"
)

// Deleter removes catalog records and their stored payloads. Catalog rows go
// first, storage cleanup second: a storage failure can strand a blob, but it
// can never leave a catalog entry pointing at data the system considers
// deleted.
type Deleter struct {
	Store Store
	Blobs ObjectStore
}

// ancestorLevel is one step of the bottom-up cascade: count remaining
// children, delete the record if there are none.
type ancestorLevel struct {
	count func(ctx context.Context) (int, error)
	del   func(ctx context.Context) error
}

// reapEmptyAncestors walks levels bottom-up, deleting each record whose
// child count has reached zero and stopping at the first level that still
// has children (its own ancestors necessarily have children too).
func reapEmptyAncestors(ctx context.Context, levels []ancestorLevel) error {
	for _, lvl := range levels {
		n, err := lvl.count(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		if err := lvl.del(ctx); err != nil {
			return err
		}
	}
	return nil
}

// deleteStudyCatalog removes every instance under the study, then reaps the
// study's now-empty series and the study itself. It touches catalog rows
// only; the patient level and storage cleanup belong to the callers. The
// returned slice holds the storage keys of the deleted instances.
func (d *Deleter) deleteStudyCatalog(ctx context.Context, userID, studyUID string) ([]string, error) {
	instances, err := d.Store.ListInstancesByStudy(ctx, userID, studyUID)
	if err != nil {
		return nil, err
	}

	sopUIDs := make([]string, len(instances))
	fileKeys := make([]string, len(instances))
	for i, in := range instances {
		sopUIDs[i] = in.SOPInstanceUID
		fileKeys[i] = in.FileKey
	}
	if err := d.Store.DeleteInstances(ctx, userID, sopUIDs); err != nil {
		return nil, err
	}

	series, err := d.Store.ListSeriesByStudy(ctx, userID, studyUID)
	if err != nil {
		return nil, err
	}
	for _, se := range series {
		err := reapEmptyAncestors(ctx, []ancestorLevel{{
			count: func(ctx context.Context) (int, error) {
				return d.Store.CountInstancesBySeries(ctx, userID, se.SeriesInstanceUID)
			},
			del: func(ctx context.Context) error {
				return d.Store.DeleteSeries(ctx, userID, se.SeriesInstanceUID)
			},
		}})
		if err != nil {
			return nil, err
		}
	}

	err = reapEmptyAncestors(ctx, []ancestorLevel{{
		count: func(ctx context.Context) (int, error) {
			return d.Store.CountSeriesByStudy(ctx, userID, studyUID)
		},
		del: func(ctx context.Context) error {
			return d.Store.DeleteStudy(ctx, userID, studyUID)
		},
	}})
	if err != nil {
		return nil, err
	}

	return fileKeys, nil
}

// patientName resolves the display name for a deletion summary.
func (d *Deleter) patientName(ctx context.Context, userID, patientID string) string {
	p, err := d.Store.GetPatient(ctx, userID, patientID)
	if err != nil || p == nil || p.Name == "" {
		return "Unknown"
	}
	return p.Name
}

// cleanupPrefix deletes stored payloads under prefix. Storage-side failures
// are logged and tolerated; the catalog rows are already gone.
func (d *Deleter) cleanupPrefix(ctx context.Context, prefix string) []string {
	deleted, err := d.Blobs.DeleteByPrefix(ctx, prefix)
	if err != nil {
		log.Printf("cleanupPrefix: %s: %v", prefix, err)
	}
	return deleted
}

// cleanupKeys deletes the collected storage keys one by one. Per-key failures
// are logged and skipped; an already-absent object counts as deleted because
// the adapter's Delete is idempotent.
func (d *Deleter) cleanupKeys(ctx context.Context, keys []string) []string {
	var deleted []string
	for _, key := range keys {
		if err := d.Blobs.Delete(ctx, key); err != nil {
			log.Printf("cleanupKeys: %s: %v", key, err)
			continue
		}
		deleted = append(deleted, key)
	}
	return deleted
}

// DeleteByStudy removes one study: all its instances and series, the study
// itself, the patient if this was the patient's last study, and every stored
// payload under the study's prefix.
func (d *Deleter) DeleteByStudy(ctx context.Context, userID, studyUID string) (*DeletionSummary, error) {
	st, err := d.Store.GetStudy(ctx, userID, studyUID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, &NotFoundError{Resource: "study", Key: studyUID}
	}

	name := d.patientName(ctx, userID, st.PatientID)

	fileKeys, err := d.deleteStudyCatalog(ctx, userID, studyUID)
	if err != nil {
		return nil, err
	}

	err = reapEmptyAncestors(ctx, []ancestorLevel{{
		count: func(ctx context.Context) (int, error) {
			return d.Store.CountStudiesByPatient(ctx, userID, st.PatientID)
		},
		del: func(ctx context.Context) error {
			return d.Store.DeletePatient(ctx, userID, st.PatientID)
		},
	}})
	if err != nil {
		return nil, err
	}

	// The catalog recorded exactly which keys this study owned, so they are
	// deleted individually first. Anything still left under the study's
	// prefix is a stray the catalog lost track of; sweep it too so the
	// branch leaves no orphans behind.
	deletedKeys := d.cleanupKeys(ctx, fileKeys)
	deletedKeys = append(deletedKeys, d.cleanupPrefix(ctx, StudyPrefix(userID, st.PatientID, studyUID))...)

	return &DeletionSummary{
		PatientName:            name,
		DeletedInstanceCount:   len(fileKeys),
		DeletedStorageKeys:     deletedKeys,
		StorageCleanupOccurred: len(deletedKeys) > 0,
	}, nil
}

// DeleteByPatient removes a patient and everything under them.
func (d *Deleter) DeleteByPatient(ctx context.Context, userID, patientID string) (*DeletionSummary, error) {
	p, err := d.Store.GetPatient(ctx, userID, patientID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &NotFoundError{Resource: "patient", Key: patientID}
	}

	name := p.Name
	if name == "" {
		name = "Unknown"
	}

	studies, err := d.Store.ListStudiesByPatient(ctx, userID, patientID)
	if err != nil {
		return nil, err
	}

	deletedCount := 0
	for _, st := range studies {
		keys, err := d.deleteStudyCatalog(ctx, userID, st.StudyInstanceUID)
		if err != nil {
			return nil, err
		}
		deletedCount += len(keys)
	}

	if err := d.Store.DeletePatient(ctx, userID, patientID); err != nil {
		return nil, err
	}

	deletedKeys := d.cleanupPrefix(ctx, PatientPrefix(userID, patientID))

	return &DeletionSummary{
		PatientName:            name,
		DeletedInstanceCount:   deletedCount,
		DeletedStorageKeys:     deletedKeys,
		StorageCleanupOccurred: len(deletedKeys) > 0,
	}, nil
}

// DeleteByFileKey removes the study that owns the instance stored under
// fileKey. Deletion granularity matches upload granularity: one batch is one
// study, so deleting any one of its files removes the whole study.
func (d *Deleter) DeleteByFileKey(ctx context.Context, userID, fileKey string) (*DeletionSummary, error) {
	in, err := d.Store.FindInstanceByFileKey(ctx, userID, fileKey)
	if err != nil {
		return nil, err
	}
	if in == nil {
		return nil, &NotFoundError{Resource: "instance", Key: fileKey}
	}
	return d.DeleteByStudy(ctx, userID, in.StudyInstanceUID)
}
