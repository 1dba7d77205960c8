package notifier

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/Divkix/pickmyclass/internal/model"
)

type capturedSend struct {
	addr string
	from string
	to   []string
	msg  []byte
}

func testMailer(delay time.Duration) (*Mailer, *[]capturedSend) {
	m := New(Config{
		Host:      "smtp.test.local",
		Port:      "587",
		From:      "alerts@pickmyclass.app",
		FromName:  "PickMyClass",
		SendDelay: delay,
	}, nil)
	sends := &[]capturedSend{}
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		*sends = append(*sends, capturedSend{addr: addr, from: from, to: to, msg: msg})
		return nil
	}
	return m, sends
}

func sampleState() *model.ClassState {
	return &model.ClassState{
		ClassNbr:       "12431",
		Term:           "2261",
		Subject:        "CMSC",
		CatalogNbr:     "132",
		Title:          "Object-Oriented Programming I",
		InstructorName: "Nelson",
		SeatsAvailable: 5,
		SeatsCapacity:  30,
	}
}

func TestNotifySeatAvailableComposesAndSends(t *testing.T) {
	m, sends := testMailer(time.Millisecond)
	w := model.Watcher{WatchID: 7, Email: "student@test.edu", ClassNbr: "12431"}

	if err := m.Notify(context.Background(), w, sampleState(), model.NotificationSeatAvailable); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(*sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(*sends))
	}
	got := (*sends)[0]
	if got.addr != "smtp.test.local:587" {
		t.Errorf("addr = %q", got.addr)
	}
	if got.from != "alerts@pickmyclass.app" {
		t.Errorf("from = %q", got.from)
	}
	if len(got.to) != 1 || got.to[0] != "student@test.edu" {
		t.Errorf("to = %v", got.to)
	}
	msg := string(got.msg)
	for _, want := range []string{
		"To: <student@test.edu>",
		"Subject: Seats open in CMSC 132",
		"5 of 30 seats available",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestNotifyInstructorAssignedBody(t *testing.T) {
	m, sends := testMailer(time.Millisecond)
	w := model.Watcher{WatchID: 7, Email: "student@test.edu"}

	if err := m.Notify(context.Background(), w, sampleState(), model.NotificationInstructorAssigned); err != nil {
		t.Fatalf("notify: %v", err)
	}
	msg := string((*sends)[0].msg)
	if !strings.Contains(msg, "Subject: Instructor assigned for CMSC 132") {
		t.Errorf("subject missing:\n%s", msg)
	}
	if !strings.Contains(msg, "Nelson") {
		t.Errorf("instructor name missing:\n%s", msg)
	}
}

func TestNotifyUnknownTypeFailsWithoutSending(t *testing.T) {
	m, sends := testMailer(time.Millisecond)

	err := m.Notify(context.Background(), model.Watcher{Email: "a@test.edu"}, sampleState(), model.NotificationType("sms"))
	if err == nil {
		t.Fatal("unknown type must fail")
	}
	if len(*sends) != 0 {
		t.Fatal("message sent for unknown type")
	}
}

func TestSendErrorSurfacesOnce(t *testing.T) {
	m, _ := testMailer(time.Millisecond)
	calls := 0
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		calls++
		return errors.New("550 relay refused")
	}

	err := m.Notify(context.Background(), model.Watcher{WatchID: 3, Email: "a@test.edu"}, sampleState(), model.NotificationSeatAvailable)
	if err == nil {
		t.Fatal("send error must surface")
	}
	if calls != 1 {
		t.Fatalf("send attempted %d times, want exactly 1 (at-most-once)", calls)
	}
}

func TestPaceSpacesConsecutiveSends(t *testing.T) {
	const delay = 40 * time.Millisecond
	m, _ := testMailer(delay)
	var stamps []time.Time
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		stamps = append(stamps, time.Now())
		return nil
	}
	w := model.Watcher{WatchID: 1, Email: "a@test.edu"}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := m.Notify(ctx, w, sampleState(), model.NotificationSeatAvailable); err != nil {
			t.Fatalf("notify %d: %v", i, err)
		}
	}
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < delay-5*time.Millisecond {
			t.Fatalf("gap %d = %v, want at least ~%v", i, gap, delay)
		}
	}
}

func TestPaceHonorsContextCancellation(t *testing.T) {
	m, sends := testMailer(time.Minute)
	w := model.Watcher{WatchID: 1, Email: "a@test.edu"}

	// First send reserves the slot; the second would wait a minute.
	if err := m.Notify(context.Background(), w, sampleState(), model.NotificationSeatAvailable); err != nil {
		t.Fatalf("first notify: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Notify(ctx, w, sampleState(), model.NotificationSeatAvailable)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if len(*sends) != 1 {
		t.Fatalf("sends = %d, want the cancelled message unsent", len(*sends))
	}
}
