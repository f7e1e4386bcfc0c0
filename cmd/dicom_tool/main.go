package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/suyashkumar/dicom"

	"yantra-imaging-rest/catalog"
)

// Inspect local DICOM files with the same extraction and batch validation
// the upload endpoint applies, without touching Firestore or GCS.
//
//  go run ./cmd/dicom_tool -action=meta file1.dcm file2.dcm
//  go run ./cmd/dicom_tool -action=keys -user=dev-user file1.dcm
func main() {
	var (
		action = flag.String("action", "meta", "action: meta|keys")
		userID = flag.String("user", "dev-user", "user ID used when computing storage keys")
	)
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		log.Fatal("at least one DICOM file is required")
	}

	datasets := make([]*dicom.Dataset, 0, len(files))
	sizes := make([]int64, 0, len(files))
	for _, path := range files {
		fi, err := os.Stat(path)
		if err != nil {
			log.Fatalf("stat %s: %v", path, err)
		}
		ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
		if err != nil {
			log.Fatalf("parse %s: %v", path, err)
		}
		datasets = append(datasets, &ds)
		sizes = append(sizes, fi.Size())
	}

	ref, err := catalog.ValidateBatch(datasets)
	if err != nil {
		log.Fatalf("batch validation failed: %v", err)
	}

	switch *action {
	case "meta":
		out := map[string]interface{}{
			"patient": catalog.ExtractPatient(datasets[0], *userID, ref.PatientID),
			"study":   catalog.ExtractStudy(datasets[0], *userID, ref.PatientID, ref.StudyInstanceUID),
			"series":  catalog.ExtractSeries(datasets[0], *userID, ref.PatientID, ref.StudyInstanceUID, ref.SeriesInstanceUID),
		}
		instances := make([]*catalog.Instance, 0, len(datasets))
		for i, ds := range datasets {
			in, err := catalog.ExtractInstance(ds, *userID, ref.PatientID, ref.StudyInstanceUID, ref.SeriesInstanceUID, sizes[i], i+1)
			if err != nil {
				log.Fatalf("extract %s: %v", files[i], err)
			}
			instances = append(instances, in)
		}
		out["instances"] = instances

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			log.Fatalf("encode: %v", err)
		}

	case "keys":
		for i, ds := range datasets {
			in, err := catalog.ExtractInstance(ds, *userID, ref.PatientID, ref.StudyInstanceUID, ref.SeriesInstanceUID, sizes[i], i+1)
			if err != nil {
				log.Fatalf("extract %s: %v", files[i], err)
			}
			fmt.Println(catalog.InstanceKey(*userID, ref.PatientID, ref.StudyInstanceUID, ref.SeriesInstanceUID, in.SOPInstanceUID))
		}

	default:
		log.Fatalf("unknown action %q", *action)
	}
}
