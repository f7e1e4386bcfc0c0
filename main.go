package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"yantra-imaging-rest/catalog"
)

func main() {
	ctx := context.Background()
	cfg := LoadConfig(ctx)

	fsc, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		log.Fatalf("failed to init Firestore: %v", err)
	}
	store := catalog.NewFirestoreCatalog(fsc)
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("error closing Firestore client: %v", err)
		}
	}()

	var stOpts []option.ClientOption
	if len(cfg.StorageCredentialsJSON) > 0 {
		stOpts = append(stOpts, option.WithCredentialsJSON(cfg.StorageCredentialsJSON))
	}
	st, err := storage.NewClient(ctx, stOpts...)
	if err != nil {
		log.Fatalf("failed to init GCS storage client: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("error closing storage client: %v", err)
		}
	}()

	blobs := catalog.NewGCSStore(st, cfg.ImagingBucket)

	h := &Handlers{
		Cfg:     cfg,
		Store:   store,
		Ingest:  &catalog.Ingestor{Store: store, Blobs: blobs},
		Deleter: &catalog.Deleter{Store: store, Blobs: blobs},
	}

	mux := http.NewServeMux()

	// Batch upload; one study/series per batch
	mux.HandleFunc("/api/dicom/upload", h.UploadDicomHandler)

	// Deleting a stored file removes the study it belongs to
	mux.HandleFunc("/api/dicom/delete", h.DeleteByFileKeyHandler)

	// Patient / study listing and deletion
	mux.HandleFunc("/api/patients", h.PatientsHandler)
	mux.HandleFunc("/api/studies", h.StudiesHandler)

	addr := ":8080"
	server := &http.Server{
		Addr:    addr,
		Handler: withCORS(mux),
	}

	go func() {
		log.Printf("Yantra imaging REST server listening on %s (project=%s bucket=%s)", addr, cfg.ProjectID, cfg.ImagingBucket)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down server...")
	if err := server.Shutdown(context.Background()); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}
