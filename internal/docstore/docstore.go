// Package docstore is the schema-flexible half of the persistence contract
// of §6: Sync, SyncJob, Collection and DAG definition documents, as opposed
// to the time-series Entity rows internal/resolver owns in Postgres.
// Grounded on storage/database.go's CouchDBClient: same kivik.Client/DB
// wrapping, same Get/Put/Find shape, retargeted from a generic
// DocumentStore to the four concrete document kinds a sync run needs.
package docstore

import (
	"context"
	"fmt"
	"net/url"
	"time"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/airweave-ai/airweave-sync/internal/pipeline"
)

var _ pipeline.CollectionStore = (*Store)(nil)

// Config mirrors storage/database.go's DatabaseConfig.
type Config struct {
	URL             string
	Database        string
	Username        string
	Password        string
	Timeout         time.Duration
	CreateIfMissing bool
}

func DefaultConfig() Config {
	return Config{
		URL:             "http://localhost:5984",
		Database:        "airweave_sync",
		Timeout:         30 * time.Second,
		CreateIfMissing: true,
	}
}

// SyncDefinition is the static description of what to sync: one source,
// one collection, one DAG of transformers/destinations.
type SyncDefinition struct {
	ID                  string            `json:"_id"`
	Rev                 string            `json:"_rev,omitempty"`
	CollectionID        string            `json:"collection_id"`
	SourceShortName     string            `json:"source_short_name"`
	SourceConfig        map[string]string `json:"source_config"`
	ClassToDefinitionID map[string]string `json:"class_to_definition_id"`
	DedupeByCollection  bool              `json:"dedupe_by_collection"`
	CreatedAt           time.Time         `json:"created_at"`
}

// SyncJobDefinition is one run record of a SyncDefinition: status mirrors
// orchestrator.Status as a string so it survives a round trip through JSON.
type SyncJobDefinition struct {
	ID         string    `json:"_id"`
	Rev        string    `json:"_rev,omitempty"`
	SyncID     string    `json:"sync_id"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Error      string    `json:"error,omitempty"`

	// CancelRequested is the cross-process cancellation signal: the cancel
	// command sets it, the running job's poll loop observes it and cancels
	// its own context. There is no other IPC channel between a `run`
	// process and a `cancel` invocation.
	CancelRequested bool `json:"cancel_requested,omitempty"`
}

// CollectionDefinition names a destination's collection-scoped identity:
// the vector size an embedder must produce, and which destinations are
// wired to it.
type CollectionDefinition struct {
	ID                  string   `json:"_id"`
	Rev                 string   `json:"_rev,omitempty"`
	EmbeddingModelName  string   `json:"embedding_model_name"`
	VectorSize          int      `json:"vector_size"`
	VectorDestinations  []string `json:"vector_destinations"`
	GraphDestinations   []string `json:"graph_destinations"`
}

// DAGDefinition is the serialized node/edge list a Store persists so a DAG
// built by internal/dagrouter can be reconstructed across process restarts.
type DAGDefinition struct {
	ID    string       `json:"_id"`
	Rev   string       `json:"_rev,omitempty"`
	Nodes []DAGNode    `json:"nodes"`
	Edges []DAGEdgeDoc `json:"edges"`
}

type DAGNode struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

type DAGEdgeDoc struct {
	From                 string `json:"from"`
	To                   string `json:"to"`
	EntityDefinitionClass string `json:"entity_definition_class,omitempty"`
}

// Store wraps a kivik.DB for the four document kinds above. Every method
// maps a 404 from kivik to a package-level ErrNotFound so callers can branch
// on it without reaching into kivik directly.
type Store struct {
	client *kivik.Client
	db     *kivik.DB
}

var ErrNotFound = fmt.Errorf("docstore: document not found")

func Open(ctx context.Context, cfg Config) (*Store, error) {
	connectionURL, err := buildConnectionURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("docstore: building connection url: %w", err)
	}

	client, err := kivik.New("couch", connectionURL)
	if err != nil {
		return nil, fmt.Errorf("docstore: creating client: %w", err)
	}

	opCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	exists, err := client.DBExists(opCtx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("docstore: checking database existence: %w", err)
	}
	if !exists {
		if !cfg.CreateIfMissing {
			return nil, fmt.Errorf("docstore: database %s does not exist", cfg.Database)
		}
		if err := client.CreateDB(opCtx, cfg.Database); err != nil {
			return nil, fmt.Errorf("docstore: creating database %s: %w", cfg.Database, err)
		}
	}

	return &Store{client: client, db: client.DB(cfg.Database)}, nil
}

func buildConnectionURL(cfg Config) (string, error) {
	if cfg.URL == "" {
		return "", fmt.Errorf("database url cannot be empty")
	}
	if cfg.Username == "" && cfg.Password == "" {
		return cfg.URL, nil
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parsing database url: %w", err)
	}
	parsed.User = url.UserPassword(cfg.Username, cfg.Password)
	return parsed.String(), nil
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) GetSync(ctx context.Context, id string) (*SyncDefinition, error) {
	var doc SyncDefinition
	if err := s.get(ctx, id, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) PutSync(ctx context.Context, doc *SyncDefinition) error {
	rev, err := s.db.Put(ctx, doc.ID, doc)
	if err != nil {
		return fmt.Errorf("docstore: putting sync %s: %w", doc.ID, err)
	}
	doc.Rev = rev
	return nil
}

func (s *Store) GetSyncJob(ctx context.Context, id string) (*SyncJobDefinition, error) {
	var doc SyncJobDefinition
	if err := s.get(ctx, id, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) PutSyncJob(ctx context.Context, doc *SyncJobDefinition) error {
	rev, err := s.db.Put(ctx, doc.ID, doc)
	if err != nil {
		return fmt.Errorf("docstore: putting sync job %s: %w", doc.ID, err)
	}
	doc.Rev = rev
	return nil
}

func (s *Store) GetCollection(ctx context.Context, id string) (*CollectionDefinition, error) {
	var doc CollectionDefinition
	if err := s.get(ctx, id, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) PutCollection(ctx context.Context, doc *CollectionDefinition) error {
	rev, err := s.db.Put(ctx, doc.ID, doc)
	if err != nil {
		return fmt.Errorf("docstore: putting collection %s: %w", doc.ID, err)
	}
	doc.Rev = rev
	return nil
}

func (s *Store) GetDAG(ctx context.Context, id string) (*DAGDefinition, error) {
	var doc DAGDefinition
	if err := s.get(ctx, id, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) PutDAG(ctx context.Context, doc *DAGDefinition) error {
	rev, err := s.db.Put(ctx, doc.ID, doc)
	if err != nil {
		return fmt.Errorf("docstore: putting dag %s: %w", doc.ID, err)
	}
	doc.Rev = rev
	return nil
}

// SyncJobsForSync runs a Mango query over sync_id, for listing run history.
func (s *Store) SyncJobsForSync(ctx context.Context, syncID string) ([]SyncJobDefinition, error) {
	rows := s.db.Find(ctx, map[string]interface{}{
		"selector": map[string]interface{}{"sync_id": syncID},
	})
	defer rows.Close()

	var jobs []SyncJobDefinition
	for rows.Next() {
		var job SyncJobDefinition
		if err := rows.ScanDoc(&job); err != nil {
			return nil, fmt.Errorf("docstore: scanning sync job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: iterating sync jobs for %s: %w", syncID, err)
	}
	return jobs, nil
}

// GetStamp and SetStamp satisfy internal/pipeline.CollectionStore directly
// against CollectionDefinition, since the embedding-config stamp (§4.3) is
// just two of its fields: the schema-flexible document store already owns
// collection identity, so it owns the stamp too rather than duplicating it
// in Postgres.
func (s *Store) GetStamp(ctx context.Context, collectionID string) (pipeline.CollectionStamp, bool, error) {
	doc, err := s.GetCollection(ctx, collectionID)
	if err == ErrNotFound {
		return pipeline.CollectionStamp{}, false, nil
	}
	if err != nil {
		return pipeline.CollectionStamp{}, false, err
	}
	if doc.EmbeddingModelName == "" {
		return pipeline.CollectionStamp{}, false, nil
	}
	return pipeline.CollectionStamp{EmbeddingModelName: doc.EmbeddingModelName, VectorSize: doc.VectorSize}, true, nil
}

func (s *Store) SetStamp(ctx context.Context, collectionID string, stamp pipeline.CollectionStamp) error {
	doc, err := s.GetCollection(ctx, collectionID)
	if err == ErrNotFound {
		doc = &CollectionDefinition{ID: collectionID}
	} else if err != nil {
		return err
	}
	doc.EmbeddingModelName = stamp.EmbeddingModelName
	doc.VectorSize = stamp.VectorSize
	return s.PutCollection(ctx, doc)
}

func (s *Store) get(ctx context.Context, id string, dest interface{}) error {
	row := s.db.Get(ctx, id)
	if row.Err() != nil {
		if kivik.HTTPStatus(row.Err()) == 404 {
			return ErrNotFound
		}
		return fmt.Errorf("docstore: getting %s: %w", id, row.Err())
	}
	if err := row.ScanDoc(dest); err != nil {
		return fmt.Errorf("docstore: scanning %s: %w", id, err)
	}
	return nil
}
