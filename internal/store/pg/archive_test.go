package pg

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"amana.org/internal/stream"
)

func TestArchiveRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("insert into events").
		WithArgs(uint64(7), "campaign.donate", "campaign", "cmp_1", sqlmock.AnyArg(), ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	a := NewArchive(db)
	err = a.Record(context.Background(), stream.Event{
		Sequence:  7,
		Operation: "campaign.donate",
		Entity:    "campaign",
		EntityID:  "cmp_1",
		Fields:    map[string]string{"amount": "100"},
		Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestArchiveList(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"sequence", "operation", "entity", "entity_id", "fields", "created_at"}).
		AddRow(uint64(1), "org.register", "organization", "org_1", []byte(`{"name":"Amana Relief"}`), ts).
		AddRow(uint64(2), "org.verify", "organization", "org_1", []byte(`{}`), ts.Add(time.Minute))
	mock.ExpectQuery("select sequence, operation, entity, entity_id, fields, created_at.*from events").
		WithArgs(uint64(0), 100).
		WillReturnRows(rows)

	a := NewArchive(db)
	got, last, err := a.List(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || last != 2 {
		t.Fatalf("got %d events, last=%d", len(got), last)
	}
	if got[0].Fields["name"] != "Amana Relief" {
		t.Fatalf("fields not decoded: %#v", got[0].Fields)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestArchiveEntityHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"sequence", "operation", "entity", "entity_id", "fields", "created_at"}).
		AddRow(uint64(4), "token.mint", "token", "tok_1", []byte(`{"amount":"100"}`), ts)
	mock.ExpectQuery("select sequence, operation, entity, entity_id, fields, created_at.*from events.*where entity").
		WithArgs("token", "tok_1", 100).
		WillReturnRows(rows)

	a := NewArchive(db)
	got, err := a.EntityHistory(context.Background(), "token", "tok_1", 0)
	if err != nil {
		t.Fatalf("EntityHistory: %v", err)
	}
	if len(got) != 1 || got[0].Operation != "token.mint" {
		t.Fatalf("unexpected history: %#v", got)
	}
	if _, err := a.EntityHistory(context.Background(), "", "tok_1", 0); err == nil {
		t.Fatal("expected validation error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
