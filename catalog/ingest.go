package catalog

import (
	"bytes"
	"context"
	"fmt"
	"log"

	"github.com/suyashkumar/dicom"
	"golang.org/x/sync/errgroup"
)

// defaultUploadParallelism caps concurrent per-file uploads within a batch.
const defaultUploadParallelism = 4

// UploadFile is one file of an upload batch, in submission order.
type UploadFile struct {
	Name string
	Data []byte
}

// parsedFile pairs a parsed dataset with the raw bytes that produced it.
type parsedFile struct {
	ds   *dicom.Dataset
	data []byte
}

// Ingestor processes one upload batch end to end: validate, extract,
// get-or-create the hierarchy, upload payloads, upsert instances, then merge
// the study aggregates exactly once.
type Ingestor struct {
	Store Store
	Blobs ObjectStore

	// Parallelism bounds concurrent per-file upload+upsert work; zero means
	// defaultUploadParallelism.
	Parallelism int
}

// Ingest parses the batch's files and runs the full ingestion flow for the
// given user. Validation failures return a *ValidationError before anything
// is written. A storage or persistence failure mid-batch leaves
// already-uploaded payloads in place (re-running the batch is idempotent)
// but never merges aggregates for a batch that did not fully succeed.
func (ing *Ingestor) Ingest(ctx context.Context, userID string, files []UploadFile) (*IngestResult, error) {
	if len(files) == 0 {
		return nil, &ValidationError{Msg: "no files provided"}
	}

	batch := make([]parsedFile, 0, len(files))
	for i, f := range files {
		// Force parsing like the rest of the pipeline: PACS exports are
		// frequently not strictly conformant. Pixel data is skipped; the raw
		// bytes go to storage untouched and only headers feed the catalog.
		ds, err := dicom.Parse(bytes.NewReader(f.Data), int64(len(f.Data)), nil, dicom.SkipPixelData())
		if err != nil {
			return nil, &ValidationError{
				FileIndex: i + 1,
				Msg:       fmt.Sprintf("file %d (%s) is not parsable DICOM: %v", i+1, f.Name, err),
			}
		}
		batch = append(batch, parsedFile{ds: &ds, data: f.Data})
	}

	return ing.ingestParsed(ctx, userID, batch)
}

func (ing *Ingestor) ingestParsed(ctx context.Context, userID string, batch []parsedFile) (*IngestResult, error) {
	datasets := make([]*dicom.Dataset, len(batch))
	for i := range batch {
		datasets[i] = batch[i].ds
	}

	// Step 1: whole-batch validation, before any write.
	ref, err := ValidateBatch(datasets)
	if err != nil {
		return nil, err
	}

	// Step 2: extract every instance record up front, so a file missing its
	// SOP Instance UID also fails the batch with zero side effects.
	first := batch[0].ds
	instances := make([]*Instance, len(batch))
	for i, pf := range batch {
		inst, err := ExtractInstance(pf.ds, userID, ref.PatientID, ref.StudyInstanceUID, ref.SeriesInstanceUID, int64(len(pf.data)), i+1)
		if err != nil {
			return nil, err
		}
		inst.FileKey = InstanceKey(userID, ref.PatientID, ref.StudyInstanceUID, ref.SeriesInstanceUID, inst.SOPInstanceUID)
		instances[i] = inst
	}

	// Step 3: establish the hierarchy from the first file's attributes.
	// Subsequent batches hit existing records and only demographic blanks
	// get backfilled.
	if err := ing.Store.GetOrCreatePatient(ctx, ExtractPatient(first, userID, ref.PatientID)); err != nil {
		return nil, err
	}
	if err := ing.Store.GetOrCreateStudy(ctx, ExtractStudy(first, userID, ref.PatientID, ref.StudyInstanceUID)); err != nil {
		return nil, err
	}
	if err := ing.Store.GetOrCreateSeries(ctx, ExtractSeries(first, userID, ref.PatientID, ref.StudyInstanceUID, ref.SeriesInstanceUID)); err != nil {
		return nil, err
	}

	// Step 4: upload payloads and upsert instance records. Files are
	// independent (distinct keys, distinct documents), so this runs with
	// bounded parallelism; the errgroup context cancels remaining work on
	// the first failure.
	parallelism := ing.Parallelism
	if parallelism <= 0 {
		parallelism = defaultUploadParallelism
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i := range batch {
		i := i
		g.Go(func() error {
			inst := instances[i]
			if err := ing.Blobs.Put(gctx, inst.FileKey, bytes.NewReader(batch[i].data)); err != nil {
				return err
			}
			return ing.Store.UpsertInstance(gctx, inst)
		})
	}
	if err := g.Wait(); err != nil {
		// Already-uploaded payloads stay put; re-submitting the batch is
		// safe because keys and instance documents are identity-derived.
		log.Printf("Ingest: batch for study %s aborted: %v", ref.StudyInstanceUID, err)
		return nil, err
	}

	// Step 5: fold this batch into the study aggregates, exactly once,
	// only after every per-file step succeeded.
	agg := BatchAggregate{
		InstanceSizes: make(map[string]int64, len(instances)),
	}
	seriesSeen := make(map[string]struct{})
	for _, inst := range instances {
		agg.InstanceSizes[inst.SOPInstanceUID] = inst.SizeBytes
		if _, ok := seriesSeen[inst.SeriesInstanceUID]; !ok {
			seriesSeen[inst.SeriesInstanceUID] = struct{}{}
			agg.SeriesInstanceUIDs = append(agg.SeriesInstanceUIDs, inst.SeriesInstanceUID)
		}
	}
	if err := ing.Store.MergeStudyAggregates(ctx, userID, ref.StudyInstanceUID, agg); err != nil {
		return nil, err
	}

	keys := make([]string, len(instances))
	for i, inst := range instances {
		keys[i] = inst.FileKey
	}
	return &IngestResult{
		InstancesProcessed: len(instances),
		PatientID:          ref.PatientID,
		StudyInstanceUID:   ref.StudyInstanceUID,
		FileKeys:           keys,
	}, nil
}
