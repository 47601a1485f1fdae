package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Raywonder/flexpbx-mailer/internal/models"
)

func insertItem(t *testing.T, repo *QueueRepository, scheduledFor time.Time) *models.QueueItem {
	t.Helper()
	item := &models.QueueItem{
		ID:           uuid.New().String(),
		TemplateKey:  "welcome",
		Recipient:    "alex@example.com",
		Subject:      "Welcome Alex",
		Text:         "Hi Alex",
		Status:       models.StatusQueued,
		MaxAttempts:  3,
		ScheduledFor: scheduledFor,
	}
	if err := repo.Insert(context.Background(), item); err != nil {
		t.Fatal(err)
	}
	return item
}

func TestQueueDueOrdering(t *testing.T) {
	db := openTestDB(t)
	repo := NewQueueRepository(db.DB)
	ctx := context.Background()
	now := time.Now()

	late := insertItem(t, repo, now.Add(-time.Minute))
	early := insertItem(t, repo, now.Add(-time.Hour))
	insertItem(t, repo, now.Add(time.Hour)) // not due

	due, err := repo.Due(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 {
		t.Fatalf("due = %d items, want 2", len(due))
	}
	if due[0].ID != early.ID || due[1].ID != late.ID {
		t.Errorf("due order = %s, %s; want oldest schedule first", due[0].ID, due[1].ID)
	}
}

func TestQueueClaimOnce(t *testing.T) {
	db := openTestDB(t)
	repo := NewQueueRepository(db.DB)
	ctx := context.Background()

	item := insertItem(t, repo, time.Now())

	claimed, err := repo.Claim(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !claimed {
		t.Fatal("first claim refused")
	}

	claimed, err = repo.Claim(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if claimed {
		t.Error("second claim succeeded on a sending item")
	}

	got, _ := repo.Get(ctx, item.ID)
	if got.Status != models.StatusSending {
		t.Errorf("status = %q, want sending", got.Status)
	}
}

func TestQueueReleaseRestoresQueued(t *testing.T) {
	db := openTestDB(t)
	repo := NewQueueRepository(db.DB)
	ctx := context.Background()

	item := insertItem(t, repo, time.Now())
	if _, err := repo.Claim(ctx, item.ID); err != nil {
		t.Fatal(err)
	}
	if err := repo.Release(ctx, item.ID); err != nil {
		t.Fatal(err)
	}

	got, _ := repo.Get(ctx, item.ID)
	if got.Status != models.StatusQueued {
		t.Errorf("status = %q, want queued", got.Status)
	}
	if got.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", got.Attempts)
	}
}

func TestQueueLifecycleTransitions(t *testing.T) {
	db := openTestDB(t)
	repo := NewQueueRepository(db.DB)
	ctx := context.Background()

	sent := insertItem(t, repo, time.Now())
	if err := repo.MarkSent(ctx, sent.ID, 1); err != nil {
		t.Fatal(err)
	}

	retried := insertItem(t, repo, time.Now())
	nextAt := time.Now().Add(5 * time.Minute)
	if err := repo.Requeue(ctx, retried.ID, 1, nextAt, "450 try later"); err != nil {
		t.Fatal(err)
	}

	failed := insertItem(t, repo, time.Now())
	if err := repo.MarkFailed(ctx, failed.ID, 3, "550 no such user"); err != nil {
		t.Fatal(err)
	}

	got, _ := repo.Get(ctx, sent.ID)
	if got.Status != models.StatusSent || got.Attempts != 1 {
		t.Errorf("sent item = %+v", got)
	}

	got, _ = repo.Get(ctx, retried.ID)
	if got.Status != models.StatusQueued || got.Attempts != 1 || got.LastError != "450 try later" {
		t.Errorf("retried item = %+v", got)
	}

	got, _ = repo.Get(ctx, failed.ID)
	if got.Status != models.StatusFailed || got.LastError != "550 no such user" {
		t.Errorf("failed item = %+v", got)
	}

	counts, err := repo.Summary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := map[models.ItemStatus]int64{
		models.StatusQueued: 1,
		models.StatusSent:   1,
		models.StatusFailed: 1,
	}
	for _, c := range counts {
		if want[c.Status] != c.Count {
			t.Errorf("summary %s = %d, want %d", c.Status, c.Count, want[c.Status])
		}
		delete(want, c.Status)
	}
	if len(want) != 0 {
		t.Errorf("summary missing statuses: %v", want)
	}
}

func TestQueueRetryFailed(t *testing.T) {
	db := openTestDB(t)
	repo := NewQueueRepository(db.DB)
	ctx := context.Background()

	item := insertItem(t, repo, time.Now())
	if err := repo.MarkFailed(ctx, item.ID, 3, "550 rejected"); err != nil {
		t.Fatal(err)
	}
	untouched := insertItem(t, repo, time.Now())

	n, err := repo.RetryFailed(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("RetryFailed = %d, want 1", n)
	}

	got, _ := repo.Get(ctx, item.ID)
	if got.Status != models.StatusQueued {
		t.Errorf("status = %q, want queued", got.Status)
	}
	if got.LastError != "" {
		t.Errorf("last_error = %q, want cleared", got.LastError)
	}
	if got.Attempts != 3 {
		t.Errorf("attempts = %d, attempt count must not reset", got.Attempts)
	}
	if got.MaxAttempts != 6 {
		t.Errorf("max_attempts = %d, want 6", got.MaxAttempts)
	}
	if got.ScheduledFor.After(time.Now().Add(time.Second)) {
		t.Errorf("scheduled_for = %v, want due now", got.ScheduledFor)
	}

	got, _ = repo.Get(ctx, untouched.ID)
	if got.MaxAttempts != 3 {
		t.Errorf("queued item touched by retry-failed: %+v", got)
	}
}

func TestQueueGetMissing(t *testing.T) {
	db := openTestDB(t)
	repo := NewQueueRepository(db.DB)

	got, err := repo.Get(context.Background(), "no-such-id")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("Get = %+v, want nil", got)
	}
}
