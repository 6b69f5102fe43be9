package store_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"murmur/internal/store"
	"murmur/internal/testsupport"
)

func newMessage(id, peer string, dir store.Direction, status store.Status) *store.Message {
	return &store.Message{
		ID:          id,
		Direction:   dir,
		PeerAddress: peer,
		Content:     "hello " + id,
		Timestamp:   time.Now().UTC().Truncate(time.Millisecond),
		Status:      status,
	}
}

func TestContactRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	added, err := st.AddContact(ctx, "alice.onion", "Alice")
	if err != nil {
		t.Fatalf("AddContact: %v", err)
	}
	contacts, err := st.ListContacts(ctx)
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if len(contacts) != 1 || contacts[0].Address != "alice.onion" || contacts[0].DisplayName != "Alice" {
		t.Fatalf("unexpected contacts: %+v", contacts)
	}

	edited, err := st.EditContact(ctx, "alice.onion", "Bob")
	if err != nil {
		t.Fatalf("EditContact: %v", err)
	}
	if edited.DisplayName != "Bob" {
		t.Fatalf("expected renamed contact, got %+v", edited)
	}
	if edited.Address != added.Address || !edited.AddedAt.Equal(added.AddedAt) {
		t.Fatalf("edit changed key or addedAt: before %+v after %+v", added, edited)
	}
}

func TestAddContactTwiceKeepsOneEntry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first, err := st.AddContact(ctx, "alice.onion", "Alice")
	if err != nil {
		t.Fatalf("AddContact: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	second, err := st.AddContact(ctx, "alice.onion", "Alice Cooper")
	if err != nil {
		t.Fatalf("AddContact again: %v", err)
	}
	contacts, err := st.ListContacts(ctx)
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("expected a single contact, got %d", len(contacts))
	}
	if second.DisplayName != "Alice Cooper" || !second.AddedAt.Equal(first.AddedAt) {
		t.Fatalf("unexpected contact after re-add: %+v", second)
	}
}

func TestEditAndDeleteMissingContact(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := st.EditContact(ctx, "nobody.onion", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("EditContact error = %v, want ErrNotFound", err)
	}
	if err := st.DeleteContact(ctx, "nobody.onion"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("DeleteContact error = %v, want ErrNotFound", err)
	}
	if _, err := st.AddContact(ctx, "carol.onion", "Carol"); err != nil {
		t.Fatalf("AddContact: %v", err)
	}
	if err := st.DeleteContact(ctx, "carol.onion"); err != nil {
		t.Fatalf("DeleteContact: %v", err)
	}
	if _, err := st.GetContact(ctx, "carol.onion"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetContact after delete = %v, want ErrNotFound", err)
	}
}

func TestMessagesInsertOrderAndPeerFilter(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	inserts := []*store.Message{
		newMessage("m1", "alice.onion", store.DirectionOutgoing, store.StatusPending),
		newMessage("m2", "bob.onion", store.DirectionIncoming, store.StatusDelivered),
		newMessage("m3", "alice.onion", store.DirectionIncoming, store.StatusDelivered),
	}
	for _, msg := range inserts {
		if err := st.InsertMessage(ctx, msg); err != nil {
			t.Fatalf("InsertMessage %s: %v", msg.ID, err)
		}
	}

	all, err := st.ListMessages(ctx, "")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if got := ids(all); !reflect.DeepEqual(got, []string{"m1", "m2", "m3"}) {
		t.Fatalf("unexpected order: %v", got)
	}
	again, err := st.ListMessages(ctx, "")
	if err != nil {
		t.Fatalf("ListMessages again: %v", err)
	}
	if !reflect.DeepEqual(all, again) {
		t.Fatal("ListMessages is not stable without mutation")
	}

	alice, err := st.ListMessages(ctx, "alice.onion")
	if err != nil {
		t.Fatalf("ListMessages(alice): %v", err)
	}
	if got := ids(alice); !reflect.DeepEqual(got, []string{"m1", "m3"}) {
		t.Fatalf("unexpected peer filter result: %v", got)
	}
}

func TestInsertMessageRejectsDuplicateID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	msg := newMessage("dup", "alice.onion", store.DirectionOutgoing, store.StatusPending)
	if err := st.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	if err := st.InsertMessage(ctx, msg); err == nil {
		t.Fatal("expected duplicate id to be rejected")
	}
}

func TestUpdateOutcomeOnlyFromPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	msg := newMessage("out", "alice.onion", store.DirectionOutgoing, store.StatusPending)
	if err := st.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	failed := store.Outcome{Status: store.StatusFailed, ErrorKind: "timed_out", ErrorDetail: "took too long"}
	if err := st.UpdateOutcome(ctx, "out", failed); err != nil {
		t.Fatalf("UpdateOutcome: %v", err)
	}
	got, err := st.GetMessage(ctx, "out")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Status != store.StatusFailed || got.ErrorKind != "timed_out" || got.ErrorDetail != "took too long" {
		t.Fatalf("unexpected message after update: %+v", got)
	}
	if err := st.UpdateOutcome(ctx, "out", store.Outcome{Status: store.StatusSent}); err == nil {
		t.Fatal("expected failed message to stay terminal")
	}
	if err := st.UpdateOutcome(ctx, "missing", failed); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("UpdateOutcome(missing) = %v, want ErrNotFound", err)
	}
}

func TestTTLPersistsAndExpiringMessages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	long := newMessage("long", "alice.onion", store.DirectionIncoming, store.StatusDelivered)
	long.SetTTL(time.Hour)
	short := newMessage("short", "alice.onion", store.DirectionIncoming, store.StatusDelivered)
	short.SetTTL(30 * time.Second)
	plain := newMessage("plain", "alice.onion", store.DirectionIncoming, store.StatusDelivered)
	for _, msg := range []*store.Message{long, short, plain} {
		if err := st.InsertMessage(ctx, msg); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
	}

	expiring, err := st.ExpiringMessages(ctx)
	if err != nil {
		t.Fatalf("ExpiringMessages: %v", err)
	}
	if got := ids(expiring); !reflect.DeepEqual(got, []string{"short", "long"}) {
		t.Fatalf("unexpected expiring order: %v", got)
	}
	if expiring[0].TTL == nil || *expiring[0].TTL != 30*time.Second {
		t.Fatalf("ttl not preserved: %v", expiring[0].TTL)
	}
	if !expiring[0].ExpiresAt.Equal(short.Timestamp.Add(30 * time.Second)) {
		t.Fatalf("expires_at = %v, want %v", expiring[0].ExpiresAt, short.Timestamp.Add(30*time.Second))
	}

	deleted, err := st.DeleteMessage(ctx, "short")
	if err != nil || !deleted {
		t.Fatalf("DeleteMessage = %v, %v", deleted, err)
	}
	deleted, err = st.DeleteMessage(ctx, "short")
	if err != nil || deleted {
		t.Fatalf("second DeleteMessage = %v, %v; want false, nil", deleted, err)
	}
}

func TestPurgeExpired(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	expired := newMessage("expired", "bob.onion", store.DirectionOutgoing, store.StatusSent)
	expired.Timestamp = now.Add(-time.Minute)
	expired.SetTTL(10 * time.Second)
	alive := newMessage("alive", "bob.onion", store.DirectionOutgoing, store.StatusSent)
	alive.Timestamp = now
	alive.SetTTL(time.Hour)
	for _, msg := range []*store.Message{expired, alive} {
		if err := st.InsertMessage(ctx, msg); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
	}

	purged, err := st.PurgeExpired(ctx, now)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if !reflect.DeepEqual(purged, []string{"expired"}) {
		t.Fatalf("unexpected purge result %v", purged)
	}
	remaining, err := st.ListMessages(ctx, "")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if got := ids(remaining); !reflect.DeepEqual(got, []string{"alive"}) {
		t.Fatalf("unexpected remaining %v", got)
	}
	if again, err := st.PurgeExpired(ctx, now); err != nil || len(again) != 0 {
		t.Fatalf("second purge = %v, %v", again, err)
	}
}

func TestFailInterruptedAndCounts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := st.InsertMessage(ctx, newMessage(fmt.Sprintf("p%d", i), "alice.onion", store.DirectionOutgoing, store.StatusPending)); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
	}
	if err := st.InsertMessage(ctx, newMessage("in", "alice.onion", store.DirectionIncoming, store.StatusDelivered)); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	n, err := st.FailInterrupted(ctx, store.LegacyInterruptedKind, "daemon restarted")
	if err != nil || n != 3 {
		t.Fatalf("FailInterrupted = %d, %v; want 3", n, err)
	}
	counts, err := st.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[store.StatusFailed] != 3 || counts[store.StatusDelivered] != 1 || counts[store.StatusPending] != 0 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestConcurrentInsertsAllPersist(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- st.InsertMessage(ctx, newMessage(fmt.Sprintf("c%02d", i), "alice.onion", store.DirectionOutgoing, store.StatusPending))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent insert: %v", err)
		}
	}
	all, err := st.ListMessages(ctx, "")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(all) != 20 {
		t.Fatalf("expected 20 messages, got %d", len(all))
	}
}

func TestReopenKeepsData(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := st.AddContact(context.Background(), "alice.onion", "Alice"); err != nil {
		t.Fatalf("AddContact: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	if _, err := reopened.GetContact(context.Background(), "alice.onion"); err != nil {
		t.Fatalf("GetContact after reopen: %v", err)
	}
	if reopened.Path() != cfg.Paths.DatabasePath {
		t.Fatalf("Path = %q, want %q", reopened.Path(), cfg.Paths.DatabasePath)
	}
}

func ids(messages []store.Message) []string {
	out := make([]string, 0, len(messages))
	for _, msg := range messages {
		out = append(out, msg.ID)
	}
	return out
}
