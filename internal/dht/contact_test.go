package dht

import (
	"net"
	"testing"
	"time"
)

func TestContact_NewContactStartsQuestionable(t *testing.T) {
	c := NewContact(NewNode(idOfBits(0), net.IPv4(1, 2, 3, 4), 6881))

	if c.IsGood() {
		t.Errorf("new contact should not be good before it responds")
	}
}

func TestContact_MarkSeenBecomesGood(t *testing.T) {
	c := NewContact(NewNode(idOfBits(0), net.IPv4(1, 2, 3, 4), 6881))
	c.MarkSeen()

	if !c.IsGood() {
		t.Errorf("contact should be good right after MarkSeen")
	}
	if c.IsBad() || c.IsQuestionable() {
		t.Errorf("a good contact should not also be bad or questionable")
	}
}

func TestContact_MarkFailedThreeTimesBecomesBad(t *testing.T) {
	c := NewContact(NewNode(idOfBits(0), net.IPv4(1, 2, 3, 4), 6881))
	c.MarkSeen()

	c.MarkFailed()
	if c.IsBad() {
		t.Fatalf("one failure should not mark a contact bad")
	}
	c.MarkFailed()
	c.MarkFailed()
	if !c.IsBad() {
		t.Errorf("three consecutive failures should mark a contact bad")
	}
}

func TestContact_MarkSeenResetsFailureCount(t *testing.T) {
	c := NewContact(NewNode(idOfBits(0), net.IPv4(1, 2, 3, 4), 6881))
	c.MarkFailed()
	c.MarkFailed()
	c.MarkSeen()
	c.MarkFailed()
	c.MarkFailed()

	if c.IsBad() {
		t.Errorf("MarkSeen should reset the failure streak")
	}
}

func TestContact_PendingQueriesLifecycle(t *testing.T) {
	c := NewContact(NewNode(idOfBits(0), net.IPv4(1, 2, 3, 4), 6881))

	c.MarkQueried("tx1")
	if c.PendingQueries() != 1 {
		t.Fatalf("PendingQueries = %d, want 1", c.PendingQueries())
	}

	c.MarkResponse("tx1")
	if c.PendingQueries() != 0 {
		t.Errorf("PendingQueries = %d, want 0 after response", c.PendingQueries())
	}
}

func TestContact_CleanStaleQueriesCountsAsFailure(t *testing.T) {
	c := NewContact(NewNode(idOfBits(0), net.IPv4(1, 2, 3, 4), 6881))
	c.MarkSeen()
	c.MarkQueried("tx1")

	time.Sleep(2 * time.Millisecond)
	c.CleanStaleQueries(time.Millisecond)

	if c.PendingQueries() != 0 {
		t.Errorf("stale query should have been cleared")
	}
	c.MarkFailed()
	c.MarkFailed()
	if !c.IsBad() {
		t.Errorf("stale cleanup should count toward the failure streak")
	}
}
