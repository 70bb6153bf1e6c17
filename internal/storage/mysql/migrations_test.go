package mysql

import (
	"context"
	"testing"
	"time"

	"ArcFlow/internal/audit"
)

func TestLoadMigrationFiles(t *testing.T) {
	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("expected at least 2 embedded migrations, got %d", len(files))
	}
	for i := 1; i < len(files); i++ {
		if files[i-1].version > files[i].version {
			t.Fatalf("migrations out of order: %s before %s", files[i-1].name, files[i].name)
		}
	}
	if files[0].version != "0001" {
		t.Fatalf("first migration version = %s", files[0].version)
	}
}

func TestSplitSQLStatements(t *testing.T) {
	content := `
CREATE TABLE a (id INT);

CREATE TABLE b (id INT);
`
	statements := splitSQLStatements(content)
	if len(statements) != 2 {
		t.Fatalf("expected 2 statements, got %d: %v", len(statements), statements)
	}
	if statements[0] != "CREATE TABLE a (id INT)" {
		t.Fatalf("statement = %q", statements[0])
	}
	if got := splitSQLStatements("  ;  ;  "); len(got) != 0 {
		t.Fatalf("blank content should yield no statements, got %v", got)
	}
}

func TestParseMigrationVersion(t *testing.T) {
	cases := map[string]string{
		"0001_settlement_history.sql": "0001",
		"0002_catalog_items.sql":      "0002",
		"0003.sql":                    "0003",
		"plain":                       "plain",
	}
	for name, want := range cases {
		if got := parseMigrationVersion(name); got != want {
			t.Fatalf("parseMigrationVersion(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestHistoryArchiveAdaptsEvents(t *testing.T) {
	repo, err := NewMemoryHistoryRepository(t.TempDir())
	if err != nil {
		t.Fatalf("create repo: %v", err)
	}
	archive := NewHistoryArchive(repo)

	event := audit.Event{
		ID:             "evt-1",
		Kind:           audit.KindSettlement,
		Status:         "success",
		Mode:           "sandbox",
		Vendors:        []string{"amazon"},
		Total:          45,
		TransactionIDs: []string{"0xabc"},
		CreatedAt:      time.Unix(1700000000, 0),
	}
	if err := archive.Save(context.Background(), event); err != nil {
		t.Fatalf("save: %v", err)
	}

	records, err := repo.ListLatest(context.Background(), 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	record := records[0]
	if record.EventID != "evt-1" || record.Kind != "settlement" || record.Mode != "sandbox" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.Total != 45 || record.CreatedAt != 1700000000 {
		t.Fatalf("fields lost in adaptation: %+v", record)
	}
}
