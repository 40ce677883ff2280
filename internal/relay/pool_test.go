package relay_test

import (
	"context"
	"testing"
	"time"

	"agentfeed/internal/identity"
	"agentfeed/internal/relay"
	"agentfeed/internal/relay/relaytest"
	"agentfeed/internal/types"
)

const testSecret = "edc90d06fee17615229c8526dc005d959e4af3bdc0b48c5776c951bcafedec85"

func signedEvent(t *testing.T, k *identity.Keyring, content string, tags [][]string) types.Event {
	t.Helper()
	evt, err := k.Sign(types.KindNote, content, tags)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return evt
}

func newKeyring(t *testing.T) *identity.Keyring {
	t.Helper()
	k := identity.New()
	if _, err := k.Import(testSecret); err != nil {
		t.Fatalf("Import: %v", err)
	}
	return k
}

func TestQueryDeduplicatesAcrossRelays(t *testing.T) {
	k := newKeyring(t)
	evt := signedEvent(t, k, "seen everywhere", nil)

	// The same event stored on two independent relays
	r1 := relaytest.New(relaytest.Options{}, evt)
	defer r1.Close()
	r2 := relaytest.New(relaytest.Options{}, evt)
	defer r2.Close()

	pool := relay.NewPool([]string{r1.URL(), r2.URL()})
	events := pool.Query(context.Background(), types.Filter{Kinds: []int{types.KindNote}}, time.Second)

	if len(events) != 1 {
		t.Fatalf("expected exactly one copy, got %d", len(events))
	}
	if events[0].ID != evt.ID {
		t.Errorf("wrong event: %s", events[0].ID)
	}
}

func TestQueryDropsUnverifiableEvents(t *testing.T) {
	k := newKeyring(t)
	good := signedEvent(t, k, "genuine", nil)

	// Tampered content invalidates the content-addressed id
	forged := good
	forged.Content = "tampered"

	// Valid id over the new content, but then the signature no longer
	// covers it
	resigned := good
	resigned.Content = "resigned"
	resigned.ID = identity.ComputeEventID(&resigned)

	r := relaytest.New(relaytest.Options{}, good, forged, resigned)
	defer r.Close()

	pool := relay.NewPool([]string{r.URL()})
	events := pool.Query(context.Background(), types.Filter{Kinds: []int{types.KindNote}}, time.Second)

	if len(events) != 1 {
		t.Fatalf("expected only the genuine event, got %d", len(events))
	}
	if events[0].ID != good.ID {
		t.Errorf("kept the wrong event: %s", events[0].ID)
	}
}

func TestQuerySortsNewestFirst(t *testing.T) {
	k := newKeyring(t)
	var seed []types.Event
	for i := 0; i < 3; i++ {
		evt, err := k.SignEvent(types.Event{
			CreatedAt: 1700000000 + int64(i*100),
			Kind:      types.KindNote,
			Content:   string(rune('a' + i)),
		})
		if err != nil {
			t.Fatalf("SignEvent: %v", err)
		}
		seed = append(seed, evt)
	}

	r := relaytest.New(relaytest.Options{}, seed...)
	defer r.Close()

	pool := relay.NewPool([]string{r.URL()})
	events := pool.Query(context.Background(), types.Filter{Kinds: []int{types.KindNote}}, time.Second)

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i-1].CreatedAt < events[i].CreatedAt {
			t.Errorf("events out of order at %d: %d < %d", i, events[i-1].CreatedAt, events[i].CreatedAt)
		}
	}
}

func TestQueryPartialRelayFailure(t *testing.T) {
	k := newKeyring(t)
	evt := signedEvent(t, k, "from the healthy relay", nil)

	healthy := relaytest.New(relaytest.Options{}, evt)
	defer healthy.Close()
	stalled := relaytest.New(relaytest.Options{Stall: true})
	defer stalled.Close()

	pool := relay.NewPool([]string{stalled.URL(), healthy.URL(), "ws://127.0.0.1:1/unreachable"})

	start := time.Now()
	events := pool.Query(context.Background(), types.Filter{Kinds: []int{types.KindNote}}, 500*time.Millisecond)
	elapsed := time.Since(start)

	if len(events) != 1 {
		t.Fatalf("expected the healthy relay's event, got %d events", len(events))
	}
	// The stalled relay must not block past the shared timeout
	if elapsed > 2*time.Second {
		t.Errorf("query took %v, expected it bounded by the timeout", elapsed)
	}
}

func TestQueryAllRelaysStall(t *testing.T) {
	r1 := relaytest.New(relaytest.Options{Stall: true})
	defer r1.Close()
	r2 := relaytest.New(relaytest.Options{Stall: true})
	defer r2.Close()

	pool := relay.NewPool([]string{r1.URL(), r2.URL()})
	events := pool.Query(context.Background(), types.Filter{Kinds: []int{types.KindNote}}, 300*time.Millisecond)

	// An empty list, not an error: no relay answered in time
	if len(events) != 0 {
		t.Errorf("expected no events from stalled relays, got %d", len(events))
	}
}

func TestQueryNoEOSEResolvesAtDeadline(t *testing.T) {
	k := newKeyring(t)
	evt := signedEvent(t, k, "delivered without EOSE", nil)

	r := relaytest.New(relaytest.Options{NoEOSE: true}, evt)
	defer r.Close()

	pool := relay.NewPool([]string{r.URL()})
	events := pool.Query(context.Background(), types.Filter{Kinds: []int{types.KindNote}}, 400*time.Millisecond)

	if len(events) != 1 {
		t.Fatalf("expected the delivered event despite missing EOSE, got %d", len(events))
	}
}

func TestPublishReportsAcceptingRelays(t *testing.T) {
	k := newKeyring(t)
	evt := signedEvent(t, k, "broadcast me", nil)

	accepting := relaytest.New(relaytest.Options{})
	defer accepting.Close()
	rejecting := relaytest.New(relaytest.Options{RejectPublish: true})
	defer rejecting.Close()
	dropping := relaytest.New(relaytest.Options{DropPublish: true})
	defer dropping.Close()

	pool := relay.NewPool([]string{accepting.URL(), rejecting.URL(), dropping.URL()})
	accepted := pool.Publish(context.Background(), evt, 500*time.Millisecond)

	if len(accepted) != 1 {
		t.Fatalf("expected one accepting relay, got %v", accepted)
	}
	if accepted[0] != accepting.URL() {
		t.Errorf("wrong relay reported: %s", accepted[0])
	}

	got := accepting.Published()
	if len(got) != 1 || got[0].ID != evt.ID {
		t.Errorf("accepting relay did not record the event")
	}
}

func TestPublishAllReject(t *testing.T) {
	k := newKeyring(t)
	evt := signedEvent(t, k, "unwanted", nil)

	r1 := relaytest.New(relaytest.Options{RejectPublish: true})
	defer r1.Close()
	r2 := relaytest.New(relaytest.Options{DropPublish: true})
	defer r2.Close()

	pool := relay.NewPool([]string{r1.URL(), r2.URL()})
	accepted := pool.Publish(context.Background(), evt, 400*time.Millisecond)

	if len(accepted) != 0 {
		t.Errorf("expected zero acceptances, got %v", accepted)
	}
}

func TestVerifyEvent(t *testing.T) {
	k := newKeyring(t)
	evt := signedEvent(t, k, "verify me", [][]string{{"p", "abc"}})

	if !relay.VerifyEvent(&evt) {
		t.Fatal("freshly signed event must verify")
	}

	tampered := evt
	tampered.Content = "changed"
	if relay.VerifyEvent(&tampered) {
		t.Error("tampered content must fail verification")
	}

	badSig := evt
	badSig.Sig = badSig.Sig[:127] + "0"
	if relay.VerifyEvent(&badSig) {
		t.Error("corrupted signature must fail verification")
	}

	empty := types.Event{}
	if relay.VerifyEvent(&empty) {
		t.Error("empty event must fail verification")
	}
}
