package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// dicomMultiValueSep joins multi-valued attributes (VM > 1) the way the
// DICOM wire format does, e.g. PixelSpacing "0.5\\0.5".
const dicomMultiValueSep = "\\"

// elementString renders a dataset element as a clean string. Values come
// back from the parser as typed slices depending on the VR, so we switch on
// the concrete value rather than relying on Element.String(), which includes
// tag/VR noise we don't want persisted.
func elementString(el *dicom.Element) string {
	if el == nil || el.Value == nil {
		return ""
	}
	switch v := el.Value.GetValue().(type) {
	case []string:
		parts := make([]string, 0, len(v))
		for _, s := range v {
			parts = append(parts, strings.TrimSpace(s))
		}
		return strings.Trim(strings.Join(parts, dicomMultiValueSep), dicomMultiValueSep)
	case []int:
		parts := make([]string, 0, len(v))
		for _, n := range v {
			parts = append(parts, strconv.Itoa(n))
		}
		return strings.Join(parts, dicomMultiValueSep)
	case []float64:
		parts := make([]string, 0, len(v))
		for _, f := range v {
			parts = append(parts, strconv.FormatFloat(f, 'g', -1, 64))
		}
		return strings.Join(parts, dicomMultiValueSep)
	default:
		return ""
	}
}

// attrString returns the attribute's string value, or def if the attribute
// is absent or empty. Missing optional attributes are never an error.
func attrString(ds *dicom.Dataset, t tag.Tag, def string) string {
	if ds == nil {
		return def
	}
	el, err := ds.FindElementByTag(t)
	if err != nil || el == nil {
		return def
	}
	if s := elementString(el); s != "" {
		return s
	}
	return def
}

// attrInt parses an integer-valued attribute, falling back to def when the
// attribute is absent or unparsable.
func attrInt(ds *dicom.Dataset, t tag.Tag, def int) int {
	raw := attrString(ds, t, "")
	if raw == "" {
		return def
	}
	// Integer attributes are single-valued for everything we extract.
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return n
}

// attrDecimal extracts a numeric-looking attribute and normalizes every
// component through an exact decimal type, so "00.5000" and "0.5" persist
// identically and later sums don't accumulate float drift. Unparsable or
// absent values fall back to def.
func attrDecimal(ds *dicom.Dataset, t tag.Tag, def string) string {
	raw := attrString(ds, t, "")
	if raw == "" {
		return def
	}
	components := strings.Split(raw, dicomMultiValueSep)
	out := make([]string, 0, len(components))
	for _, c := range components {
		d, err := decimal.NewFromString(strings.TrimSpace(c))
		if err != nil {
			return def
		}
		out = append(out, d.String())
	}
	return strings.Join(out, dicomMultiValueSep)
}

// requiredAttr returns the attribute value or a ValidationError naming the
// missing identifier. Used only for the identifiers the catalog is keyed on.
func requiredAttr(ds *dicom.Dataset, t tag.Tag, name string, fileIndex int) (string, error) {
	v := attrString(ds, t, "")
	if v == "" {
		return "", &ValidationError{
			FileIndex: fileIndex,
			Field:     name,
			Msg:       fmt.Sprintf("missing required DICOM identifier %s in file %d", name, fileIndex),
		}
	}
	return v, nil
}

// hasPixelData reports whether the dataset carries a PixelData element.
// Parsing with SkipPixelData still records the (skipped) element, so this
// works on header-only parses too.
func hasPixelData(ds *dicom.Dataset) bool {
	if ds == nil {
		return false
	}
	el, err := ds.FindElementByTag(tag.PixelData)
	return err == nil && el != nil
}

// ExtractPatient builds a Patient record from a dataset's demographic
// attributes. PatientID must already have been validated.
func ExtractPatient(ds *dicom.Dataset, userID, patientID string) *Patient {
	return &Patient{
		PatientID:   patientID,
		UserID:      userID,
		Name:        attrString(ds, tag.PatientName, ""),
		Sex:         attrString(ds, tag.PatientSex, ""),
		Age:         attrString(ds, tag.PatientAge, ""),
		Weight:      attrDecimal(ds, tag.PatientWeight, ""),
		EthnicGroup: attrString(ds, tag.EthnicGroup, ""),
		BirthDate:   attrString(ds, tag.PatientBirthDate, ""),
		CreatedAt:   time.Now().UTC(),
	}
}

// ExtractStudy builds a Study record from a dataset's study-level
// attributes. Aggregates start empty; the first merge fills them in.
func ExtractStudy(ds *dicom.Dataset, userID, patientID, studyUID string) *Study {
	return &Study{
		StudyInstanceUID:   studyUID,
		PatientID:          patientID,
		UserID:             userID,
		StudyID:            attrString(ds, tag.StudyID, ""),
		StudyDate:          attrString(ds, tag.StudyDate, ""),
		StudyTime:          attrString(ds, tag.StudyTime, ""),
		StudyDescription:   attrString(ds, tag.StudyDescription, ""),
		AccessionNumber:    attrString(ds, tag.AccessionNumber, ""),
		ReferringPhysician: attrString(ds, tag.ReferringPhysicianName, ""),
		Modality:           attrString(ds, tag.Modality, ""),
		BodyPartExamined:   attrString(ds, tag.BodyPartExamined, ""),
		CreatedAt:          time.Now().UTC(),
	}
}

// ExtractSeries builds a Series record from a dataset's series-level
// attributes.
func ExtractSeries(ds *dicom.Dataset, userID, patientID, studyUID, seriesUID string) *Series {
	return &Series{
		SeriesInstanceUID: seriesUID,
		StudyInstanceUID:  studyUID,
		PatientID:         patientID,
		UserID:            userID,
		SeriesNumber:      attrString(ds, tag.SeriesNumber, ""),
		SeriesDescription: attrString(ds, tag.SeriesDescription, ""),
		Modality:          attrString(ds, tag.Modality, ""),
		BodyPartExamined:  attrString(ds, tag.BodyPartExamined, ""),
		CreatedAt:         time.Now().UTC(),
	}
}

// ExtractInstance builds the full per-file Instance record. fileIndex is the
// 1-based batch position, used only for error reporting when the file lacks
// a SOP Instance UID.
func ExtractInstance(ds *dicom.Dataset, userID, patientID, studyUID, seriesUID string, sizeBytes int64, fileIndex int) (*Instance, error) {
	sopUID, err := requiredAttr(ds, tag.SOPInstanceUID, "SOPInstanceUID", fileIndex)
	if err != nil {
		return nil, err
	}

	return &Instance{
		SOPInstanceUID:    sopUID,
		SeriesInstanceUID: seriesUID,
		StudyInstanceUID:  studyUID,
		PatientID:         patientID,
		UserID:            userID,

		InstanceNumber: attrString(ds, tag.InstanceNumber, ""),

		PixelSpacing:            attrDecimal(ds, tag.PixelSpacing, ""),
		SliceThickness:          attrDecimal(ds, tag.SliceThickness, ""),
		ImagePositionPatient:    attrDecimal(ds, tag.ImagePositionPatient, ""),
		ImageOrientationPatient: attrDecimal(ds, tag.ImageOrientationPatient, ""),
		FrameOfReferenceUID:     attrString(ds, tag.FrameOfReferenceUID, ""),
		WindowCenter:            attrDecimal(ds, tag.WindowCenter, ""),
		WindowWidth:             attrDecimal(ds, tag.WindowWidth, ""),

		BitsAllocated:             attrInt(ds, tag.BitsAllocated, 0),
		BitsStored:                attrInt(ds, tag.BitsStored, 0),
		Rows:                      attrInt(ds, tag.Rows, 0),
		Columns:                   attrInt(ds, tag.Columns, 0),
		PhotometricInterpretation: attrString(ds, tag.PhotometricInterpretation, ""),
		SOPClassUID:               attrString(ds, tag.SOPClassUID, ""),
		NumberOfFrames:            attrInt(ds, tag.NumberOfFrames, 1),
		HasPixelData:              hasPixelData(ds),

		SizeBytes: sizeBytes,
		CreatedAt: time.Now().UTC(),
	}, nil
}
