package main

import (
	"fmt"
	"os"

	"VeilSum/internal/logger"
	"VeilSum/internal/snapshot"
	"VeilSum/internal/storage"
)

// runSnapshot exports or imports the store and returns.
func runSnapshot(cfg *Config) error {
	if cfg.ExportPath != "" && cfg.ImportPath != "" {
		return fmt.Errorf("-export and -import are exclusive")
	}

	db, err := openStorage(cfg.DataPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.ExportPath != "" {
		return exportSnapshot(db, cfg.ExportPath)
	}

	return importSnapshot(db, cfg.ImportPath)
}

// exportSnapshot writes a snapshot of db to path.
func exportSnapshot(db *storage.Storage, path string) error {
	data, err := snapshot.Create(db)
	if err != nil {
		return fmt.Errorf("create snapshot:\n%w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write snapshot:\n%w", err)
	}

	logger.Info("snapshot exported", "path", path, "bytes", len(data))

	return nil
}

// importSnapshot loads the snapshot at path into db, which must be empty.
func importSnapshot(db *storage.Storage, path string) error {
	empty := true
	err := db.Iterate(func(_, _ []byte) error {
		empty = false
		return storage.ErrStop
	})
	if err != nil {
		return fmt.Errorf("inspect store:\n%w", err)
	}

	if !empty {
		return fmt.Errorf("store is not empty, refusing to import")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot:\n%w", err)
	}

	n, err := snapshot.Apply(db, data)
	if err != nil {
		return fmt.Errorf("apply snapshot:\n%w", err)
	}

	logger.Info("snapshot imported", "path", path, "entries", n)

	return nil
}
