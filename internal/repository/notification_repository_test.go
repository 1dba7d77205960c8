package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/Divkix/pickmyclass/internal/model"
)

const tryRecordPattern = `INSERT INTO notification_receipts`

func TestTryRecordNotificationFreshInsertWins(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewNotificationRepo(db)

	mock.ExpectExec(tryRecordPattern).
		WithArgs(uint64(7), "seat_available", 24).
		WillReturnResult(sqlmock.NewResult(0, 1)) // fresh insert

	won, err := repo.TryRecordNotification(context.Background(), 7, model.NotificationSeatAvailable, 24)
	if err != nil {
		t.Fatalf("try record: %v", err)
	}
	if !won {
		t.Fatal("fresh insert must win the claim")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestTryRecordNotificationUnexpiredReceiptBlocks(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewNotificationRepo(db)

	// MySQL reports 0 affected rows when the ON DUPLICATE KEY branch
	// changes nothing: the unexpired receipt stays in place.
	mock.ExpectExec(tryRecordPattern).
		WithArgs(uint64(7), "seat_available", 24).
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := repo.TryRecordNotification(context.Background(), 7, model.NotificationSeatAvailable, 24)
	if err != nil {
		t.Fatalf("try record: %v", err)
	}
	if won {
		t.Fatal("an unexpired receipt must block the claim")
	}
}

func TestTryRecordNotificationExpiredReceiptTakenOver(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewNotificationRepo(db)

	// 2 affected rows is MySQL's signal for an updated existing row:
	// the expired receipt was taken over in the same statement.
	mock.ExpectExec(tryRecordPattern).
		WithArgs(uint64(7), "instructor_assigned", 24).
		WillReturnResult(sqlmock.NewResult(0, 2))

	won, err := repo.TryRecordNotification(context.Background(), 7, model.NotificationInstructorAssigned, 24)
	if err != nil {
		t.Fatalf("try record: %v", err)
	}
	if !won {
		t.Fatal("an expired receipt must not block a new notification")
	}
}

func TestClearForSection(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewNotificationRepo(db)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE r FROM notification_receipts r`)).
		WithArgs("12431", "seat_available").
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := repo.ClearForSection(context.Background(), "12431", model.NotificationSeatAvailable); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
