// Package vectorstore wraps the Qdrant vector index backing memory
// embeddings and conversation (label/summary/combined) embeddings — the
// vector leg of hybrid recall (§4.3) and the snippet strategy's cosine
// anchor search (§4.4). Grounded on the manifold example's
// internal/persistence/databases/qdrant_vector.go client construction and
// its UUID-point-ID payload convention (Qdrant only accepts UUID or integer
// point IDs, so the caller's own ID is carried in the payload instead).
package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/tarsync/memoryplane/pkg/config"
)

// Store wraps a Qdrant gRPC client bound to one collection.
type Store struct {
	client     *qdrant.Client
	collection string
	vectorSize uint64
}

// New connects to Qdrant and ensures the named collection exists, creating
// it with cosine distance if missing.
func New(ctx context.Context, cfg *config.QdrantConfig, collection string) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	exists, err := client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection %q: %w", collection, err)
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     cfg.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create collection %q: %w", collection, err)
		}
	}

	return &Store{client: client, collection: collection, vectorSize: cfg.VectorSize}, nil
}

// Point is one stored vector, keyed by the caller's own ID (carried in the
// payload since Qdrant point IDs must be UUID or integer).
type Point struct {
	ID      uuid.UUID
	Vector  []float32
	Payload map[string]any
}

// Upsert writes or overwrites a batch of points.
func (s *Store) Upsert(ctx context.Context, points []Point) error {
	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload := qdrant.NewValueMap(p.Payload)
		payload["original_id"] = qdrant.NewValueString(p.ID.String())
		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID.String()),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		})
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         qpoints,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points into %q: %w", len(points), s.collection, err)
	}
	return nil
}

// Match is one search hit.
type Match struct {
	ID      uuid.UUID
	Score   float32
	Payload map[string]any
}

// Search runs a top-k cosine similarity search bounded by ctx's deadline
// (§4.3 step 2, §4.4 snippet anchor search).
func (s *Store) Search(ctx context.Context, vector []float32, limit uint64, scoreThreshold float32) ([]Match, error) {
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		ScoreThreshold: &scoreThreshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search %q: %w", s.collection, err)
	}

	matches := make([]Match, 0, len(points))
	for _, p := range points {
		id, err := uuid.Parse(p.Id.GetUuid())
		if err != nil {
			continue
		}
		payload := make(map[string]any, len(p.Payload))
		for k, v := range p.Payload {
			if sv, ok := v.GetKind().(*qdrant.Value_StringValue); ok {
				payload[k] = sv.StringValue
			} else {
				payload[k] = v.String()
			}
		}
		matches = append(matches, Match{ID: id, Score: p.Score, Payload: payload})
	}
	return matches, nil
}

// Delete removes points by ID, used when a memory is soft-deleted and its
// embedding must no longer surface in recall.
func (s *Store) Delete(ctx context.Context, ids []uuid.UUID) error {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(id.String()))
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	return err
}

// Close releases the gRPC connection.
func (s *Store) Close() error { return s.client.Close() }
