// Package resolver classifies a batch of already-hashed entities into
// INSERT/UPDATE/KEEP/DELETE against the entity storage row (§4.4), via
// chunked bulk lookups. The chunked-at-1000-keys bulk query shape is
// grounded on eve.evalgo.org/db/repository's PostgresMetricsRepository
// query style, but persistence here goes through gorm instead of raw pgx
// so the entity storage row exercises the gorm.io/gorm + gorm.io/driver/postgres
// dependency the teacher's go.mod carries but its read files never use.
package resolver

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/airweave-ai/airweave-sync/internal/entity"
	"github.com/airweave-ai/airweave-sync/internal/workerpool"
)

const bulkLookupChunkSize = 1000

// EntityRow is the entity storage row of §6: one row per (sync, entity)
// pair, tracking the last-seen hash.
type EntityRow struct {
	ID                 uint64 `gorm:"primaryKey"`
	SyncID             string `gorm:"index:idx_sync_def_entity,unique"`
	EntityID           string `gorm:"index:idx_sync_def_entity,unique"`
	EntityDefinitionID string `gorm:"index:idx_sync_def_entity,unique"`
	Hash               string
	CollectionID       string `gorm:"index:idx_collection_def_entity"`
	CreatedAt          time.Time
	ModifiedAt         time.Time
}

func (EntityRow) TableName() string { return "sync_entities" }

// Key is the bulk-lookup key: (entity_id, entity_definition_id).
type Key struct {
	EntityID           string
	EntityDefinitionID string
}

// Action is the classification outcome for one entity.
type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionKeep   Action = "KEEP"
	ActionDelete Action = "DELETE"
)

// Resolution is one entity's classification result.
type Resolution struct {
	Entity              *entity.Entity
	Action              Action
	DBID                uint64 // carried for UPDATE/DELETE, 0 when none
	SkipContentHandlers bool   // set when found via collection-scope dedupe
}

// Batch groups classified entities by action, the EntityActionBatch of §4.4.
type Batch struct {
	Inserts []Resolution
	Updates []Resolution
	Keeps   []Resolution
	Deletes []Resolution
}

func (b *Batch) add(r Resolution) {
	switch r.Action {
	case ActionInsert:
		b.Inserts = append(b.Inserts, r)
	case ActionUpdate:
		b.Updates = append(b.Updates, r)
	case ActionKeep:
		b.Keeps = append(b.Keeps, r)
	case ActionDelete:
		b.Deletes = append(b.Deletes, r)
	}
}

// Resolver holds the gorm handle used for bulk lookups and row upserts.
type Resolver struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// AutoMigrate ensures the sync_entities table and its indices exist.
func (r *Resolver) AutoMigrate() error {
	return r.db.AutoMigrate(&EntityRow{})
}

// Options controls the execution-config flags §4.4 describes.
type Options struct {
	DedupeByCollection bool
	CollectionID       string
	SkipHashComparison bool
}

// Resolve classifies every entity in the batch against the sync-scoped
// lookup, and optionally a collection-scoped lookup for cross-sync dedupe.
func (r *Resolver) Resolve(ctx context.Context, syncID string, entities []*entity.Entity, opts Options) (*Batch, error) {
	batch := &Batch{}

	var nonDeletions []*entity.Entity
	var deletions []*entity.Entity
	for _, e := range entities {
		if e.IsDeletion() {
			deletions = append(deletions, e)
		} else {
			nonDeletions = append(nonDeletions, e)
		}
	}

	keys := make([]Key, 0, len(nonDeletions))
	for _, e := range nonDeletions {
		defID, err := definitionIDFor(e)
		if err != nil {
			return nil, &workerpool.SyncFailureError{Reason: "missing entity_definition_id", Err: err}
		}
		if e.System.Hash == "" {
			return nil, &workerpool.SyncFailureError{Reason: fmt.Sprintf("missing hash for entity %s", e.EntityID)}
		}
		keys = append(keys, Key{EntityID: e.EntityID, EntityDefinitionID: defID})
	}

	syncScope, err := r.bulkLookup(ctx, "sync_id = ?", syncID, keys)
	if err != nil {
		return nil, fmt.Errorf("resolver: sync-scoped bulk lookup: %w", err)
	}

	var collectionScope map[Key]EntityRow
	if opts.DedupeByCollection && opts.CollectionID != "" {
		collectionScope, err = r.bulkLookup(ctx, "collection_id = ?", opts.CollectionID, keys)
		if err != nil {
			return nil, fmt.Errorf("resolver: collection-scoped bulk lookup: %w", err)
		}
	}

	for _, e := range nonDeletions {
		defID, _ := definitionIDFor(e)
		key := Key{EntityID: e.EntityID, EntityDefinitionID: defID}

		if opts.SkipHashComparison {
			batch.add(Resolution{Entity: e, Action: ActionInsert})
			continue
		}

		if existing, ok := syncScope[key]; ok {
			if existing.Hash == e.System.Hash {
				batch.add(Resolution{Entity: e, Action: ActionKeep, DBID: existing.ID})
			} else {
				batch.add(Resolution{Entity: e, Action: ActionUpdate, DBID: existing.ID})
			}
			continue
		}

		skipHandlers := false
		if collectionScope != nil {
			if other, ok := collectionScope[key]; ok && other.Hash == e.System.Hash {
				skipHandlers = true
			}
		}
		batch.add(Resolution{Entity: e, Action: ActionInsert, SkipContentHandlers: skipHandlers})
	}

	for _, e := range deletions {
		defID, _ := definitionIDFor(e)
		key := Key{EntityID: e.EntityID, EntityDefinitionID: defID}
		dbID := uint64(0)
		if existing, ok := syncScope[key]; ok {
			dbID = existing.ID
		}
		batch.add(Resolution{Entity: e, Action: ActionDelete, DBID: dbID})
	}

	return batch, nil
}

// Stale returns every row belonging to syncID that was not touched this run
// (§4.8 step 4: "entities present in last run but absent this run"). seen is
// the set of keys the current run actually resolved; callers accumulate it
// across every batch before calling Stale once at the end of the stream.
func (r *Resolver) Stale(ctx context.Context, syncID string, seen map[Key]bool) ([]EntityRow, error) {
	var rows []EntityRow
	if err := r.db.WithContext(ctx).Where("sync_id = ?", syncID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("resolver: loading sync_id %s for staleness scan: %w", syncID, err)
	}

	stale := rows[:0]
	for _, row := range rows {
		key := Key{EntityID: row.EntityID, EntityDefinitionID: row.EntityDefinitionID}
		if !seen[key] {
			stale = append(stale, row)
		}
	}
	return stale, nil
}

func definitionIDFor(e *entity.Entity) (string, error) {
	if e.Kind == entity.KindPolymorphic {
		return entity.ReservedTableDefinitionID, nil
	}
	if e.EntityDefinitionID == "" {
		return "", fmt.Errorf("entity %s has no entity_definition_id and is not polymorphic", e.EntityID)
	}
	return e.EntityDefinitionID, nil
}

// bulkLookup reads existing rows matching scopeCol = scopeVal for every key
// in keys, chunked at bulkLookupChunkSize per query.
func (r *Resolver) bulkLookup(ctx context.Context, scopeCol string, scopeVal string, keys []Key) (map[Key]EntityRow, error) {
	result := make(map[Key]EntityRow, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	for start := 0; start < len(keys); start += bulkLookupChunkSize {
		end := start + bulkLookupChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		entityIDs := make([]string, len(chunk))
		for i, k := range chunk {
			entityIDs[i] = k.EntityID
		}

		var rows []EntityRow
		query := r.db.WithContext(ctx).Where(scopeCol+" = ?", scopeVal).Where("entity_id IN ?", entityIDs)
		if err := query.Find(&rows).Error; err != nil {
			return nil, err
		}

		wanted := make(map[Key]bool, len(chunk))
		for _, k := range chunk {
			wanted[k] = true
		}
		for _, row := range rows {
			k := Key{EntityID: row.EntityID, EntityDefinitionID: row.EntityDefinitionID}
			if wanted[k] {
				result[k] = row
			}
		}
	}

	return result, nil
}

// Persist upserts the resolved INSERT/UPDATE rows and deletes the resolved
// DELETE rows, after the DAG router has finished writing to destinations.
func (r *Resolver) Persist(ctx context.Context, syncID, collectionID string, batch *Batch) error {
	now := time.Now()

	for _, res := range append(append([]Resolution{}, batch.Inserts...), batch.Updates...) {
		defID, _ := definitionIDFor(res.Entity)
		row := EntityRow{
			SyncID:             syncID,
			EntityID:           res.Entity.EntityID,
			EntityDefinitionID: defID,
			Hash:               res.Entity.System.Hash,
			CollectionID:       collectionID,
			ModifiedAt:         now,
		}
		if res.Action == ActionInsert {
			row.CreatedAt = now
			if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
				return fmt.Errorf("resolver: inserting entity row %s: %w", res.Entity.EntityID, err)
			}
		} else {
			if err := r.db.WithContext(ctx).Model(&EntityRow{}).Where("id = ?", res.DBID).
				Updates(map[string]interface{}{"hash": row.Hash, "modified_at": now}).Error; err != nil {
				return fmt.Errorf("resolver: updating entity row %s: %w", res.Entity.EntityID, err)
			}
		}
	}

	for _, res := range batch.Deletes {
		if res.DBID == 0 {
			continue // id-less deletes are no-ops for the destination but still traced upstream
		}
		if err := r.db.WithContext(ctx).Delete(&EntityRow{}, res.DBID).Error; err != nil {
			return fmt.Errorf("resolver: deleting entity row %d: %w", res.DBID, err)
		}
	}

	return nil
}
