package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// ComputeHash implements the hash law of §4.3: SHA-256 over a deterministic
// serialization that excludes the declared volatile set (breadcrumbs, url,
// local_path, airweave_system_metadata). File entities additionally fold in
// content bytes and file metadata so a rename changes the hash while a
// refreshed download URL does not.
func ComputeHash(e *Entity) string {
	h := sha256.New()

	if e.IsFile() {
		h.Write(e.FileContentBytes)
		h.Write(stableJSON(fileMetadataBytes(e)))
	} else {
		h.Write(stableJSON(contentBytes(e)))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// contentBytes builds the non-volatile, non-file serialization subject used
// for non-file entities: entity id/definition/content plus any code-file
// fields, in deterministic key order.
func contentBytes(e *Entity) map[string]interface{} {
	m := map[string]interface{}{
		"entity_id":            e.EntityID,
		"entity_definition_id": e.EntityDefinitionID,
		"content":              e.Content,
	}
	if e.CommitID != "" || e.SHA != "" || e.Language != "" {
		m["commit_id"] = e.CommitID
		m["sha"] = e.SHA
		m["language"] = e.Language
	}
	if e.IsDeletion() {
		m["deletion_status"] = e.DeletionStatus
	}
	return m
}

// fileMetadataBytes is the "metadata_bytes" half of the file hash law: all
// non-content, non-volatile attributes. name/size/type are included so a
// rename-only change flips the hash; url and local_path are deliberately
// absent.
func fileMetadataBytes(e *Entity) map[string]interface{} {
	return map[string]interface{}{
		"entity_id":            e.EntityID,
		"entity_definition_id": e.EntityDefinitionID,
		"file_name":            e.FileName,
		"file_size":            e.FileSize,
		"file_content_type":    e.FileContentType,
		"commit_id":            e.CommitID,
		"sha":                  e.SHA,
		"language":             e.Language,
	}
}

// stableJSON marshals v with map keys sorted, giving a deterministic byte
// sequence across processes regardless of Go's randomized map iteration.
func stableJSON(v interface{}) []byte {
	normalized := normalize(v)
	data, err := json.Marshal(normalized)
	if err != nil {
		// Content built entirely from JSON-safe primitives by this package;
		// a marshal failure here means a caller smuggled an unsupported
		// type into Content and is a programmer error, not a runtime one.
		panic("entity: unhashable content: " + err.Error())
	}
	return data
}

// normalize recursively converts maps into sorted-key slices of pairs so
// json.Marshal's own (already-sorted) map key ordering is reinforced and
// nested maps-of-maps stay deterministic too.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]orderedPair, 0, len(keys))
		for _, k := range keys {
			out = append(out, orderedPair{Key: k, Value: normalize(val[k])})
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return val
	}
}

type orderedPair struct {
	Key   string      `json:"k"`
	Value interface{} `json:"v"`
}
