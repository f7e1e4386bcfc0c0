package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// testDataset builds an in-memory dataset from tag -> value pairs. Values
// use the same Go types the parser produces: []string for string VRs,
// []int for binary integer VRs.
func testDataset(t *testing.T, attrs map[tag.Tag]interface{}) *dicom.Dataset {
	t.Helper()
	ds := &dicom.Dataset{}
	for tg, v := range attrs {
		el, err := dicom.NewElement(tg, v)
		require.NoError(t, err, "NewElement for %v", tg)
		ds.Elements = append(ds.Elements, el)
	}
	return ds
}

// instanceDataset builds a minimal but complete dataset for one instance.
func instanceDataset(t *testing.T, patientID, studyUID, seriesUID, sopUID string) *dicom.Dataset {
	t.Helper()
	return testDataset(t, map[tag.Tag]interface{}{
		tag.PatientID:         []string{patientID},
		tag.PatientName:       []string{"DOE^JANE"},
		tag.PatientSex:        []string{"F"},
		tag.StudyInstanceUID:  []string{studyUID},
		tag.SeriesInstanceUID: []string{seriesUID},
		tag.SOPInstanceUID:    []string{sopUID},
		tag.Modality:          []string{"CT"},
	})
}

func TestAttrStringDefaultsWhenAbsent(t *testing.T) {
	ds := testDataset(t, map[tag.Tag]interface{}{
		tag.Modality: []string{"MR"},
	})

	require.Equal(t, "MR", attrString(ds, tag.Modality, "unknown"))
	require.Equal(t, "unknown", attrString(ds, tag.StudyDescription, "unknown"))
	require.Equal(t, "", attrString(ds, tag.AccessionNumber, ""))
}

func TestAttrStringJoinsMultiValue(t *testing.T) {
	ds := testDataset(t, map[tag.Tag]interface{}{
		tag.ImagePositionPatient: []string{" -120.5 ", "0", "45.25"},
	})

	require.Equal(t, "-120.5\\0\\45.25", attrString(ds, tag.ImagePositionPatient, ""))
}

func TestAttrIntParsesBinaryAndStringValues(t *testing.T) {
	ds := testDataset(t, map[tag.Tag]interface{}{
		tag.Rows:           []int{512},
		tag.NumberOfFrames: []string{"12"},
	})

	require.Equal(t, 512, attrInt(ds, tag.Rows, 0))
	require.Equal(t, 12, attrInt(ds, tag.NumberOfFrames, 1))
	require.Equal(t, 1, attrInt(ds, tag.BitsStored, 1))
}

func TestAttrDecimalNormalizesComponents(t *testing.T) {
	ds := testDataset(t, map[tag.Tag]interface{}{
		tag.PixelSpacing:  []string{"00.5000", ".25"},
		tag.PatientWeight: []string{"070.50"},
		tag.WindowCenter:  []string{"not-a-number"},
	})

	require.Equal(t, "0.5\\0.25", attrDecimal(ds, tag.PixelSpacing, ""))
	require.Equal(t, "70.5", attrDecimal(ds, tag.PatientWeight, ""))
	// Unparsable values fall back to the default rather than persisting junk.
	require.Equal(t, "", attrDecimal(ds, tag.WindowCenter, ""))
	require.Equal(t, "n/a", attrDecimal(ds, tag.SliceThickness, "n/a"))
}

func TestExtractInstanceRequiresSOPInstanceUID(t *testing.T) {
	ds := testDataset(t, map[tag.Tag]interface{}{
		tag.PatientID:         []string{"P1"},
		tag.StudyInstanceUID:  []string{"S1"},
		tag.SeriesInstanceUID: []string{"SE1"},
	})

	_, err := ExtractInstance(ds, "user-1", "P1", "S1", "SE1", 42, 3)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, 3, verr.FileIndex)
	require.Equal(t, "SOPInstanceUID", verr.Field)
}

func TestExtractInstanceFullAttributeSet(t *testing.T) {
	ds := testDataset(t, map[tag.Tag]interface{}{
		tag.PatientID:         []string{"P1"},
		tag.StudyInstanceUID:  []string{"S1"},
		tag.SeriesInstanceUID: []string{"SE1"},
		tag.SOPInstanceUID:    []string{"I1"},
		tag.InstanceNumber:    []string{"7"},
		tag.PixelSpacing:      []string{"0.50", "0.50"},
		tag.WindowCenter:      []string{"40"},
		tag.WindowWidth:       []string{"400"},
		tag.BitsAllocated:     []int{16},
		tag.BitsStored:        []int{12},
		tag.Rows:              []int{512},
		tag.Columns:           []int{512},
	})

	inst, err := ExtractInstance(ds, "user-1", "P1", "S1", "SE1", 1024, 1)
	require.NoError(t, err)

	require.Equal(t, "I1", inst.SOPInstanceUID)
	require.Equal(t, "SE1", inst.SeriesInstanceUID)
	require.Equal(t, "S1", inst.StudyInstanceUID)
	require.Equal(t, "P1", inst.PatientID)
	require.Equal(t, "user-1", inst.UserID)
	require.Equal(t, "7", inst.InstanceNumber)
	require.Equal(t, "0.5\\0.5", inst.PixelSpacing)
	require.Equal(t, "40", inst.WindowCenter)
	require.Equal(t, "400", inst.WindowWidth)
	require.Equal(t, 16, inst.BitsAllocated)
	require.Equal(t, 12, inst.BitsStored)
	require.Equal(t, 512, inst.Rows)
	require.Equal(t, 512, inst.Columns)
	require.Equal(t, 1, inst.NumberOfFrames)
	require.False(t, inst.HasPixelData)
	require.Equal(t, int64(1024), inst.SizeBytes)
}

func TestExtractPatientDemographics(t *testing.T) {
	ds := testDataset(t, map[tag.Tag]interface{}{
		tag.PatientID:        []string{"P1"},
		tag.PatientName:      []string{"DOE^JOHN"},
		tag.PatientSex:       []string{"M"},
		tag.PatientAge:       []string{"045Y"},
		tag.PatientWeight:    []string{"82.00"},
		tag.PatientBirthDate: []string{"19800101"},
	})

	p := ExtractPatient(ds, "user-1", "P1")
	require.Equal(t, "DOE^JOHN", p.Name)
	require.Equal(t, "M", p.Sex)
	require.Equal(t, "045Y", p.Age)
	require.Equal(t, "82", p.Weight)
	require.Equal(t, "19800101", p.BirthDate)
	require.Equal(t, "user-1", p.UserID)
}
