package database

import (
	"database/sql"
	"log"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/intakehq/intake/config"
	"github.com/intakehq/intake/internal/cache"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		ca, errCache := cache.NewCache()
		if errCache != nil {
			log.Printf("case cache unavailable, reads go straight to the database: %v", errCache)
			ca = nil
		}
		instance = &Datasource{Conn: con, Cache: ca}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// ConnectDB opens a connection for the given DSN. The driver is picked from
// the DSN scheme; anything that is not mysql:// is treated as postgres.
func ConnectDB(dns string) (*sql.DB, error) {
	driver := "postgres"
	if strings.HasPrefix(dns, "mysql://") {
		driver = "mysql"
		dns = strings.TrimPrefix(dns, "mysql://")
	}

	db, err := sql.Open(driver, dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	err = createSchema(db)
	if err != nil {
		return nil, err
	}
	err = createCaseTable(db)
	if err != nil {
		return nil, err
	}
	err = createIngestionRecordTable(db)
	if err != nil {
		return nil, err
	}
	err = createAttachmentTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS intake`)
	if err != nil {
		log.Printf("Error creating intake schema: %v", err)
	}
	return err
}

// createCaseTable creates a PostgreSQL table for the Case struct
func createCaseTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS intake.cases (
			id SERIAL PRIMARY KEY,
			case_id TEXT NOT NULL UNIQUE,
			case_number TEXT NOT NULL UNIQUE,
			patient_name TEXT,
			exam_type TEXT,
			exam_date TEXT,
			exam_time TEXT,
			exam_location TEXT,
			referring_party TEXT,
			referring_email TEXT,
			report_due_date TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			notes TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating cases table: %v", err)
	}
	return err
}

// createIngestionRecordTable creates a PostgreSQL table for the IngestionRecord struct
func createIngestionRecordTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS intake.ingestion_records (
			id SERIAL PRIMARY KEY,
			record_id TEXT NOT NULL UNIQUE,
			case_id TEXT REFERENCES intake.cases(case_id),
			subject TEXT,
			sender TEXT,
			recipients TEXT,
			body TEXT,
			received_at TIMESTAMP,
			status TEXT NOT NULL DEFAULT 'pending',
			raw_extraction JSONB,
			error_message TEXT,
			payload_snapshot BYTEA,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			processed_at TIMESTAMP,
			UNIQUE (subject, sender, received_at)
		)
	`)
	if err != nil {
		log.Printf("Error creating ingestion_records table: %v", err)
	}
	return err
}

// createAttachmentTable creates a PostgreSQL table for the Attachment struct
func createAttachmentTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS intake.attachments (
			id SERIAL PRIMARY KEY,
			attachment_id TEXT NOT NULL UNIQUE,
			record_id TEXT NOT NULL REFERENCES intake.ingestion_records(record_id),
			case_id TEXT REFERENCES intake.cases(case_id),
			filename TEXT NOT NULL,
			content_type TEXT,
			category TEXT NOT NULL DEFAULT 'other',
			category_reason TEXT,
			content_preview TEXT,
			storage_ref TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (record_id, filename)
		)
	`)
	if err != nil {
		log.Printf("Error creating attachments table: %v", err)
	}
	return err
}
