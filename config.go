package main

import (
	"context"
	"fmt"
	"log"
	"os"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretmanagerpb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// Config holds service configuration. Project ID scopes Firestore, the
// imaging bucket holds uploaded DICOM payloads, and the dev bearer enables
// local auth bypass.
type Config struct {
	ProjectID     string
	DevBearer     string
	ImagingBucket string

	// StorageCredentialsJSON is an optional service-account key for the
	// storage client, loaded from Secret Manager. Empty means ADC.
	StorageCredentialsJSON []byte
}

// loadStorageCreds loads the imaging-storage service account JSON from
// Google Secret Manager. Returning nil is not an error; the storage client
// falls back to Application Default Credentials.
func loadStorageCreds(ctx context.Context, projectID string) []byte {
	secretID := os.Getenv("YANTRA_STORAGE_CREDENTIALS_SECRET")
	if secretID == "" {
		return nil
	}

	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		log.Printf("loadStorageCreds: failed to init Secret Manager client: %v", err)
		return nil
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Printf("loadStorageCreds: error closing Secret Manager client: %v", err)
		}
	}()

	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, secretID)
	resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		log.Printf("loadStorageCreds: AccessSecretVersion failed for %s: %v", name, err)
		return nil
	}
	if resp.Payload == nil || len(resp.Payload.Data) == 0 {
		log.Printf("loadStorageCreds: secret %s has empty payload", name)
		return nil
	}

	return resp.Payload.Data
}

// LoadConfig reads configuration from environment variables with local-dev
// defaults.
func LoadConfig(ctx context.Context) Config {
	projectID := os.Getenv("YANTRA_PROJECT_ID")
	if projectID == "" {
		projectID = "yantra-healthcare"
	}

	devBearer := os.Getenv("AUTH_DEV_BEARER")

	// Private imaging bucket; all access goes through this backend.
	imagingBucket := os.Getenv("YANTRA_IMAGING_BUCKET")
	if imagingBucket == "" {
		imagingBucket = "yantra-healthcare-imaging"
	}

	return Config{
		ProjectID:              projectID,
		DevBearer:              devBearer,
		ImagingBucket:          imagingBucket,
		StorageCredentialsJSON: loadStorageCreds(ctx, projectID),
	}
}
