package database

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
)

func TestDSN(t *testing.T) {
	dsn := DSN("cycle", "p@ss", "db.local", "3306", "cycles")
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("ParseDSN(%q): %v", dsn, err)
	}
	if cfg.User != "cycle" || cfg.Passwd != "p@ss" || cfg.Addr != "db.local:3306" || cfg.DBName != "cycles" {
		t.Fatalf("parsed %+v", cfg)
	}
	if !cfg.ParseTime || cfg.Loc.String() != "UTC" {
		t.Fatalf("parseTime=%v loc=%s", cfg.ParseTime, cfg.Loc)
	}
}

func TestStatementsCoverEveryTable(t *testing.T) {
	stmts := Statements()
	if len(stmts) != 4 {
		t.Fatalf("got %d statements, want 4", len(stmts))
	}
	for i, table := range []string{"users", "refresh_tokens", "bicycles", "reservations"} {
		if !strings.HasPrefix(stmts[i], "CREATE TABLE IF NOT EXISTS "+table+" ") {
			t.Fatalf("statement %d = %.40q", i, stmts[i])
		}
	}
}

func TestEnsureSchemaExecutesInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"users", "refresh_tokens", "bicycles", "reservations"} {
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS " + table + " ")).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
