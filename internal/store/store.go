// Package store exports a built dataset into a SQLite database for ad-hoc
// querying.
package store

import (
	"fmt"
	"os"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/iyulab/sigma-cti-triplets/internal/reporter"
	"github.com/iyulab/sigma-cti-triplets/internal/triplet"
)

const batchSize = 100

// TripletRow is one triplet. List columns are comma-delimited with leading and
// trailing commas so single values can be matched with LIKE.
type TripletRow struct {
	ID           uint   `gorm:"primaryKey"`
	RunID        string `gorm:"index"`
	EvtxFile     string `gorm:"index"`
	Tactic       string `gorm:"index"`
	RuleTitle    string
	RuleID       string `gorm:"index"`
	RuleLevel    string
	RuleStatus   string
	RuleFile     string
	Tags         string
	TechniqueIDs string
	MatchCount   int
	HasCTILink   bool `gorm:"index"`

	References []ReferenceRow `gorm:"foreignKey:TripletID;constraint:OnDelete:CASCADE"`
}

func (TripletRow) TableName() string { return "triplets" }

// ReferenceRow is one classified reference of a triplet.
type ReferenceRow struct {
	ID             uint `gorm:"primaryKey"`
	TripletID      uint `gorm:"index"`
	URL            string
	Classification string `gorm:"index"`
	Relevant       bool
}

func (ReferenceRow) TableName() string { return "triplet_references" }

// TechniqueRow is the summary of one technique.
type TechniqueRow struct {
	TechniqueID   string `gorm:"primaryKey"`
	Detections    int
	CTILinked     int
	MatchedEvents int
	Rules         string // newline-delimited
	EvtxFiles     string // newline-delimited
}

func (TechniqueRow) TableName() string { return "techniques" }

// Store is an open dataset database.
type Store struct {
	db *gorm.DB
}

// Open opens or creates the database at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&TripletRow{}, &ReferenceRow{}, &TechniqueRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db.Session(&gorm.Session{CreateBatchSize: batchSize})}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Replace swaps the stored dataset for the given one in a single transaction.
func (s *Store) Replace(runID string, triplets []triplet.Triplet, techniques map[string]reporter.TechniqueSummary) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&ReferenceRow{}, &TripletRow{}, &TechniqueRow{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return fmt.Errorf("clear: %w", err)
			}
		}

		rows := make([]TripletRow, 0, len(triplets))
		for _, t := range triplets {
			rows = append(rows, toRow(runID, t))
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("insert triplets: %w", err)
			}
		}

		techRows := make([]TechniqueRow, 0, len(techniques))
		for _, id := range reporter.SortedTechniqueIDs(techniques) {
			sum := techniques[id]
			techRows = append(techRows, TechniqueRow{
				TechniqueID:   id,
				Detections:    sum.Detections,
				CTILinked:     sum.CTILinked,
				MatchedEvents: sum.MatchedEvents,
				Rules:         strings.Join(sum.Rules, "\n"),
				EvtxFiles:     strings.Join(sum.EvtxFiles, "\n"),
			})
		}
		if len(techRows) > 0 {
			if err := tx.Create(&techRows).Error; err != nil {
				return fmt.Errorf("insert techniques: %w", err)
			}
		}
		return nil
	})
}

// CountTriplets returns the number of stored triplets, optionally only the
// CTI-linked ones.
func (s *Store) CountTriplets(ctiOnly bool) (int64, error) {
	var n int64
	q := s.db.Model(&TripletRow{})
	if ctiOnly {
		q = q.Where("has_cti_link = ?", true)
	}
	err := q.Count(&n).Error
	return n, err
}

// TripletsByTechnique returns the triplets tagged with a technique id, with
// their references.
func (s *Store) TripletsByTechnique(id string) ([]TripletRow, error) {
	var rows []TripletRow
	err := s.db.Preload("References").
		Where("technique_ids LIKE ?", "%,"+strings.ToUpper(id)+",%").
		Order("id").
		Find(&rows).Error
	return rows, err
}

// Techniques returns all technique rows ordered by id.
func (s *Store) Techniques() ([]TechniqueRow, error) {
	var rows []TechniqueRow
	err := s.db.Order("technique_id").Find(&rows).Error
	return rows, err
}

// Export writes the dataset to a fresh database file at path.
func Export(path, runID string, triplets []triplet.Triplet, techniques map[string]reporter.TechniqueSummary) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove old database: %w", err)
	}
	s, err := Open(path)
	if err != nil {
		return err
	}
	if err := s.Replace(runID, triplets, techniques); err != nil {
		s.Close()
		return err
	}
	return s.Close()
}

func toRow(runID string, t triplet.Triplet) TripletRow {
	row := TripletRow{
		RunID:        runID,
		EvtxFile:     t.EvtxFile,
		Tactic:       t.Tactic,
		RuleTitle:    t.RuleTitle,
		RuleID:       t.RuleID,
		RuleLevel:    t.RuleLevel,
		RuleStatus:   t.RuleStatus,
		RuleFile:     t.RuleFile,
		Tags:         delimited(t.Tags),
		TechniqueIDs: delimited(t.TechniqueIDs),
		MatchCount:   t.MatchCount,
		HasCTILink:   t.HasCTILink,
	}
	for _, ref := range t.CTIReferences {
		row.References = append(row.References, ReferenceRow{URL: ref.URL, Classification: string(ref.Classification), Relevant: true})
	}
	for _, ref := range t.OtherReferences {
		row.References = append(row.References, ReferenceRow{URL: ref.URL, Classification: string(ref.Classification)})
	}
	return row
}

func delimited(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return "," + strings.Join(values, ",") + ","
}
