package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"worker-transcribe/entities"
	"worker-transcribe/pkg/objectstore"
)

// MetadataStore persists the diarization artifact, one object per file.
type MetadataStore interface {
	Write(ctx context.Context, meta *entities.DiarizationMetadata) error
	Read(ctx context.Context, fileID uuid.UUID) ([]byte, error)
}

type objectMetadataStore struct {
	store objectstore.Store
}

func NewMetadataStore(store objectstore.Store) MetadataStore {
	return &objectMetadataStore{store: store}
}

func (m *objectMetadataStore) Write(ctx context.Context, meta *entities.DiarizationMetadata) error {
	if meta.DetectedSpeakers == nil {
		meta.DetectedSpeakers = []string{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return m.store.Put(ctx, objectstore.MetadataKey(meta.FileID), data, "application/json")
}

func (m *objectMetadataStore) Read(ctx context.Context, fileID uuid.UUID) ([]byte, error) {
	return m.store.Get(ctx, objectstore.MetadataKey(fileID))
}
