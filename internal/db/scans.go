package db

import (
	"sync"

	"github.com/latortuga71/GoEvade/internal/data"
)

var ScansDatabase *ScanDB

type ScanDB struct {
	sync.Mutex
	Database map[string]data.ScanRecord `json:"Database"`
}

func init() {
	ScansDatabase = NewScanDB()
}

func NewScanDB() *ScanDB {
	return &ScanDB{
		Database: make(map[string]data.ScanRecord),
	}
}

func (db *ScanDB) AddScan(record data.ScanRecord) bool {
	db.Lock()
	defer db.Unlock()
	if _, ok := db.Database[record.ScanId]; ok {
		return false
	}
	db.Database[record.ScanId] = record
	return true
}

func (db *ScanDB) GetScan(scanId string) (data.ScanRecord, bool) {
	db.Lock()
	defer db.Unlock()
	record, ok := db.Database[scanId]
	return record, ok
}

func (db *ScanDB) Scans() map[string]data.ScanRecord {
	db.Lock()
	defer db.Unlock()
	scans := make(map[string]data.ScanRecord, len(db.Database))
	for key, record := range db.Database {
		scans[key] = record
	}
	return scans
}

func (db *ScanDB) Count() int {
	db.Lock()
	defer db.Unlock()
	return len(db.Database)
}
