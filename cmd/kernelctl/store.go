package main

import (
	"encoding/json"

	"github.com/nextlevelbuilder/goclaw/internal/kvstore"
	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// remarshal round-trips a decoded-any value (as returned by KVStore.KVGet)
// through JSON into a concrete typed destination.
func remarshal(raw any, dst any) error {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, dst)
}

// openSessionStore opens the sqlite-backed KV store at path and layers a
// KernelSessionStore over it (internal/store.KVSessionStore), so trace/queue
// inspection reads whatever a real kernel process persisted there.
func openSessionStore(path string) (store.KernelSessionStore, func() error, error) {
	kv, err := kvstore.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return store.NewKVSessionStore(kv), kv.Close, nil
}
