package catalog

import (
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ReferenceTriple is the set of owning identifiers every file in a batch
// must agree on: one batch targets exactly one patient, one study and, in
// practice, one series.
type ReferenceTriple struct {
	PatientID         string
	StudyInstanceUID  string
	SeriesInstanceUID string
}

// ValidateBatch extracts the reference triple from the first dataset and
// checks every subsequent dataset against it. It runs to completion before
// any storage or catalog write happens and has no side effects.
//
// On the first mismatch it fails the whole batch, reporting the 1-based
// position of the offending file and the field that diverged.
func ValidateBatch(datasets []*dicom.Dataset) (ReferenceTriple, error) {
	if len(datasets) == 0 {
		return ReferenceTriple{}, &ValidationError{Msg: "no files provided"}
	}

	first := datasets[0]
	patientID, err := requiredAttr(first, tag.PatientID, "PatientID", 1)
	if err != nil {
		return ReferenceTriple{}, err
	}
	studyUID, err := requiredAttr(first, tag.StudyInstanceUID, "StudyInstanceUID", 1)
	if err != nil {
		return ReferenceTriple{}, err
	}
	seriesUID, err := requiredAttr(first, tag.SeriesInstanceUID, "SeriesInstanceUID", 1)
	if err != nil {
		return ReferenceTriple{}, err
	}

	ref := ReferenceTriple{
		PatientID:         patientID,
		StudyInstanceUID:  studyUID,
		SeriesInstanceUID: seriesUID,
	}

	checks := []struct {
		field string
		t     tag.Tag
		want  string
	}{
		{"PatientID", tag.PatientID, ref.PatientID},
		{"StudyInstanceUID", tag.StudyInstanceUID, ref.StudyInstanceUID},
		{"SeriesInstanceUID", tag.SeriesInstanceUID, ref.SeriesInstanceUID},
	}

	for i, ds := range datasets[1:] {
		fileIndex := i + 2 // 1-based position in the batch
		for _, c := range checks {
			if got := attrString(ds, c.t, ""); got != c.want {
				return ReferenceTriple{}, &ValidationError{
					FileIndex: fileIndex,
					Field:     c.field,
				}
			}
		}
	}

	return ref, nil
}
