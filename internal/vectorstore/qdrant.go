// Package vectorstore adapts Qdrant to ports.VectorPort. One collection
// per knowledge namespace; Qdrant only accepts UUID or unsigned-integer
// point IDs, so caller-supplied chunk IDs are deterministically mapped to
// a UUID5 and the original ID is round-tripped through the payload.
package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/llmgateway/gateway/internal/models"
	"github.com/llmgateway/gateway/internal/ports"
)

const payloadIDField = "_original_id"
const payloadContentField = "content"
const payloadSourceField = "source"

// Store is a Qdrant-backed ports.VectorPort implementation.
type Store struct {
	client     *qdrant.Client
	dimensions int
}

// New dials Qdrant's gRPC endpoint (default port 6334). dsn may carry an
// api_key query parameter, e.g. "http://localhost:6334?api_key=...".
func New(dsn string, dimensions int) (*Store, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	portStr := parsed.Port()
	if portStr == "" {
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant dsn: %w", err)
	}

	cfg := &qdrant.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}

	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &Store{client: client, dimensions: dimensions}, nil
}

// Close releases the underlying gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func pointUUID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

// ensureCollection creates the collection on first use with cosine
// distance, matching the embedder's similarity metric this gateway relies
// on throughout (relevance thresholding assumes a cosine score space).
func (s *Store) ensureCollection(ctx context.Context, collection string) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	if s.dimensions <= 0 {
		return fmt.Errorf("vectorstore: dimensions must be > 0 to create collection %q", collection)
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %q: %w", collection, err)
	}
	return nil
}

// Upsert implements ports.VectorPort.
func (s *Store) Upsert(ctx context.Context, collection string, chunk models.KnowledgeChunk) error {
	if err := s.ensureCollection(ctx, collection); err != nil {
		return err
	}

	uuidStr := pointUUID(chunk.ID)
	payload := map[string]any{
		payloadContentField: chunk.Content,
		payloadSourceField:  chunk.Source,
	}
	if uuidStr != chunk.ID {
		payload[payloadIDField] = chunk.ID
	}

	vec := make([]float32, len(chunk.Embedding))
	copy(vec, chunk.Embedding)

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDUUID(uuidStr),
				Vectors: qdrant.NewVectorsDense(vec),
				Payload: qdrant.NewValueMap(payload),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

// Search implements ports.VectorPort. Results below scoreThreshold are
// dropped by the caller (the context engine applies the relevance
// cutoff); this method returns the raw top-K by score.
func (s *Store) Search(ctx context.Context, collection string, embedding []float32, topK int, scoreThreshold float64) ([]ports.VectorMatch, error) {
	if topK <= 0 {
		topK = 10
	}
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("check collection exists: %w", err)
	}
	if !exists {
		return nil, nil
	}

	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	limit := uint64(topK)

	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		ScoreThreshold: float32Ptr(float32(scoreThreshold)),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	matches := make([]ports.VectorMatch, 0, len(hits))
	for _, hit := range hits {
		uuidStr := hit.Id.GetUuid()
		if uuidStr == "" {
			uuidStr = hit.Id.String()
		}
		id := uuidStr
		var content, source string
		if hit.Payload != nil {
			if v, ok := hit.Payload[payloadIDField]; ok {
				id = v.GetStringValue()
			}
			if v, ok := hit.Payload[payloadContentField]; ok {
				content = v.GetStringValue()
			}
			if v, ok := hit.Payload[payloadSourceField]; ok {
				source = v.GetStringValue()
			}
		}
		matches = append(matches, ports.VectorMatch{
			ID:      id,
			Content: content,
			Source:  source,
			Score:   float64(hit.Score),
		})
	}
	return matches, nil
}

func float32Ptr(v float32) *float32 { return &v }
