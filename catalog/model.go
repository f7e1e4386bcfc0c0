package catalog

import "time"

// The catalog is a strict four-level tree keyed by the identifiers DICOM
// files carry themselves: Patient -> Study -> Series -> Instance. Every
// record is scoped to the owning user; all reads and deletes filter on it.

// Patient corresponds to one PatientID under one user. Created on the first
// file that references a new patient ID; demographics are backfilled later
// only where the stored value is still blank.
type Patient struct {
	PatientID   string    `firestore:"patient_id" json:"patient_id"`
	UserID      string    `firestore:"user_id" json:"user_id"`
	Name        string    `firestore:"patient_name" json:"patient_name"`
	Sex         string    `firestore:"patient_sex" json:"patient_sex"`
	Age         string    `firestore:"patient_age" json:"patient_age"`
	Weight      string    `firestore:"patient_weight" json:"patient_weight"`
	EthnicGroup string    `firestore:"ethnic_group" json:"ethnic_group"`
	BirthDate   string    `firestore:"patient_birth_date" json:"patient_birth_date"`
	CreatedAt   time.Time `firestore:"created_at" json:"created_at"`
}

// Study corresponds to one StudyInstanceUID. Besides the descriptive fields
// taken from the first file of the first batch, it carries running aggregates
// that are folded in once per successful upload batch:
//
//   - InstanceSizes maps every SOP Instance UID ever attached to this study
//     to that instance's current byte size. Keeping sizes per UID (rather
//     than a running total) is what makes re-uploads exact: the merge is a
//     map union, the total is the sum of the merged map's values.
//   - SeriesInstanceUIDs is the deduplicated list of series seen so far.
//   - NumSeries / NumInstances / TotalSizeBytes are derived from the merged
//     UID set and size map at merge time and persisted for cheap listing.
type Study struct {
	StudyInstanceUID   string `firestore:"study_instance_uid" json:"study_instance_uid"`
	PatientID          string `firestore:"patient_id" json:"patient_id"`
	UserID             string `firestore:"user_id" json:"user_id"`
	StudyID            string `firestore:"study_id" json:"study_id"`
	StudyDate          string `firestore:"study_date" json:"study_date"`
	StudyTime          string `firestore:"study_time" json:"study_time"`
	StudyDescription   string `firestore:"study_description" json:"study_description"`
	AccessionNumber    string `firestore:"accession_number" json:"accession_number"`
	ReferringPhysician string `firestore:"referring_physician_name" json:"referring_physician_name"`
	Modality           string `firestore:"modality" json:"modality"`
	BodyPartExamined   string `firestore:"body_part_examined" json:"body_part_examined"`

	SeriesInstanceUIDs []string         `firestore:"series_instance_uids" json:"series_instance_uids"`
	InstanceSizes      map[string]int64 `firestore:"instance_sizes" json:"-"`
	NumSeries          int              `firestore:"number_of_series" json:"number_of_series"`
	NumInstances       int              `firestore:"num_instances" json:"number_of_instances"`
	TotalSizeBytes     int64            `firestore:"total_study_size_bytes" json:"total_study_size_bytes"`

	CreatedAt time.Time `firestore:"created_at" json:"created_at"`
}

// Series corresponds to one SeriesInstanceUID under a study.
type Series struct {
	SeriesInstanceUID string    `firestore:"series_instance_uid" json:"series_instance_uid"`
	StudyInstanceUID  string    `firestore:"study_instance_uid" json:"study_instance_uid"`
	PatientID         string    `firestore:"patient_id" json:"patient_id"`
	UserID            string    `firestore:"user_id" json:"user_id"`
	SeriesNumber      string    `firestore:"series_number" json:"series_number"`
	SeriesDescription string    `firestore:"series_description" json:"series_description"`
	Modality          string    `firestore:"modality" json:"modality"`
	BodyPartExamined  string    `firestore:"body_part_examined" json:"body_part_examined"`
	CreatedAt         time.Time `firestore:"created_at" json:"created_at"`
}

// Instance corresponds to one SOP Instance UID, i.e. one uploaded file.
// Upserted by identity: re-uploading the same SOP UID overwrites every
// mutable field, including FileKey and SizeBytes (overwrite-wins).
type Instance struct {
	SOPInstanceUID    string `firestore:"sop_instance_uid" json:"sop_instance_uid"`
	SeriesInstanceUID string `firestore:"series_instance_uid" json:"series_instance_uid"`
	StudyInstanceUID  string `firestore:"study_instance_uid" json:"study_instance_uid"`
	PatientID         string `firestore:"patient_id" json:"patient_id"`
	UserID            string `firestore:"user_id" json:"user_id"`

	InstanceNumber string `firestore:"instance_number" json:"instance_number"`
	FileKey        string `firestore:"file_key" json:"file_key"`

	PixelSpacing            string `firestore:"pixel_spacing" json:"pixel_spacing"`
	SliceThickness          string `firestore:"slice_thickness" json:"slice_thickness"`
	ImagePositionPatient    string `firestore:"image_position_patient" json:"image_position_patient"`
	ImageOrientationPatient string `firestore:"image_orientation_patient" json:"image_orientation_patient"`
	FrameOfReferenceUID     string `firestore:"frame_of_reference_uid" json:"frame_of_reference_uid"`
	WindowCenter            string `firestore:"window_center" json:"window_center"`
	WindowWidth             string `firestore:"window_width" json:"window_width"`

	BitsAllocated             int    `firestore:"bits_allocated" json:"bits_allocated"`
	BitsStored                int    `firestore:"bits_stored" json:"bits_stored"`
	Rows                      int    `firestore:"rows" json:"rows"`
	Columns                   int    `firestore:"columns" json:"columns"`
	PhotometricInterpretation string `firestore:"photometric_interpretation" json:"photometric_interpretation"`
	SOPClassUID               string `firestore:"sop_class_uid" json:"sop_class_uid"`
	NumberOfFrames            int    `firestore:"number_of_frames" json:"number_of_frames"`
	HasPixelData              bool   `firestore:"has_pixel_data" json:"has_pixel_data"`

	SizeBytes int64     `firestore:"total_size_bytes" json:"total_size_bytes"`
	CreatedAt time.Time `firestore:"created_at" json:"created_at"`
}

// BatchAggregate is what one successfully processed upload batch contributes
// to its study's running aggregates.
type BatchAggregate struct {
	SeriesInstanceUIDs []string
	// InstanceSizes maps each SOP UID uploaded in this batch to its byte size.
	InstanceSizes map[string]int64
}

// DeletionSummary reports what a cascade delete removed, mirroring the shape
// the frontend has always consumed.
type DeletionSummary struct {
	PatientName            string   `json:"patient_name"`
	DeletedInstanceCount   int      `json:"deleted_instance_count"`
	DeletedStorageKeys     []string `json:"deleted_storage_keys"`
	StorageCleanupOccurred bool     `json:"storage_cleanup_occurred"`
}

// IngestResult is returned by a successful batch ingestion.
type IngestResult struct {
	InstancesProcessed int      `json:"instances_processed"`
	PatientID          string   `json:"patient_id"`
	StudyInstanceUID   string   `json:"study_instance_uid"`
	FileKeys           []string `json:"file_keys"`
}
