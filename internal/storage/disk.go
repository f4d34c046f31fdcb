package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Usage is the on-disk footprint reported by the status endpoint.
type Usage struct {
	IndexBytes  int64 `json:"index_bytes"`
	LedgerBytes int64 `json:"ledger_bytes"`
	Generations int   `json:"generations"`
}

// Usage measures the store and the SQLite ledger at ledgerPath, including its WAL files.
func (s *FileStore) Usage(ledgerPath string) (Usage, error) {
	var u Usage
	var err error
	if u.IndexBytes, err = DiskUsageBytes(s.dir); err != nil {
		return u, err
	}
	if ledgerPath != "" {
		if u.LedgerBytes, err = DiskUsageBytes(ledgerPath, ledgerPath+"-wal", ledgerPath+"-shm"); err != nil {
			return u, err
		}
	}
	ids, err := s.Generations()
	if err != nil {
		return u, err
	}
	u.Generations = len(ids)
	return u, nil
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Directories are summed recursively; symlinks are not followed or counted.
// Missing paths contribute 0.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return 0, err
		}
	}
	return total, nil
}
