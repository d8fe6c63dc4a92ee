package ingest

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/astra"
)

// VectorWriter is the bootstrap side of the vector store client.
type VectorWriter interface {
	CreateVectorCollection(ctx context.Context, name string, dimension int, metric string) error
	InsertDocuments(ctx context.Context, docs []astra.Document) (int, error)
}

// Embedder is the batch embedding side of the model client.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Ingestor embeds documents and loads them into the vector store.
type Ingestor struct {
	store    VectorWriter
	embedder Embedder
	logger   *logrus.Logger
}

// NewIngestor builds an ingestor.
func NewIngestor(store VectorWriter, embedder Embedder, logger *logrus.Logger) *Ingestor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Ingestor{store: store, embedder: embedder, logger: logger}
}

// Report summarizes one ingest run.
type Report struct {
	Documents int
	Inserted  int
	Dimension int
}

// Run embeds every document's context text, creates the collection
// sized to the embedding dimension, and inserts the documents with
// their vectors attached.
func (i *Ingestor) Run(ctx context.Context, docs []astra.Document, collection string) (*Report, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("nothing to ingest")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	texts := make([]string, len(docs))
	for idx, doc := range docs {
		texts[idx] = doc.ContextText()
	}

	i.logger.WithField("documents", len(docs)).Info("Embedding documents")
	vectors, err := i.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("embedding count mismatch: %d vectors for %d documents", len(vectors), len(docs))
	}

	dimension := len(vectors[0])
	if dimension == 0 {
		return nil, fmt.Errorf("embedding service returned empty vectors")
	}
	for idx := range docs {
		docs[idx][astra.FieldVector] = vectors[idx]
	}

	if err := i.store.CreateVectorCollection(ctx, collection, dimension, "cosine"); err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", collection, err)
	}

	inserted, err := i.store.InsertDocuments(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("inserting documents: %w", err)
	}

	report := &Report{Documents: len(docs), Inserted: inserted, Dimension: dimension}
	i.logger.WithFields(logrus.Fields{
		"documents": report.Documents,
		"inserted":  report.Inserted,
		"dimension": report.Dimension,
	}).Info("Ingest completed")
	return report, nil
}
