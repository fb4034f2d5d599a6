package cache

import (
	"reflect"
	"testing"

	"domofon/internal/models"
)

func msg(id, clientID, conv, content string) models.Message {
	return models.Message{
		ID:             id,
		ClientID:       clientID,
		ConversationID: conv,
		Content:        content,
	}
}

func TestAddRemoveOptimistic_Rollback(t *testing.T) {
	c := New(nil)

	c.Replace("conv1", []models.Message{
		msg("1", "", "conv1", "first"),
		msg("2", "", "conv1", "second"),
	})
	before := c.Messages("conv1")

	pending := msg("", "client-abc", "conv1", "optimistic")
	c.AddOptimistic(pending)

	got := c.Messages("conv1")
	if len(got) != 3 {
		t.Fatalf("expected 3 messages after AddOptimistic, got %d", len(got))
	}
	if got[2].ClientID != "client-abc" {
		t.Errorf("optimistic message not appended last: %v", got[2])
	}

	// Failed send: rollback must restore the exact prior list.
	c.RemoveOptimistic("conv1", "client-abc")
	after := c.Messages("conv1")
	if !reflect.DeepEqual(before, after) {
		t.Errorf("rollback did not restore prior state:\nbefore %v\nafter  %v", before, after)
	}
}

func TestAddOptimistic_CreatesList(t *testing.T) {
	c := New(nil)
	c.AddOptimistic(msg("", "c1", "fresh", "hi"))

	got := c.Messages("fresh")
	if len(got) != 1 || got[0].Content != "hi" {
		t.Errorf("expected single optimistic message, got %v", got)
	}
}

func TestConfirm_PromotesByClientID(t *testing.T) {
	c := New(nil)

	pending := msg("", "client-1", "conv1", "hello")
	pending.Status = models.DeliverySending
	c.AddOptimistic(pending)

	confirmed := msg("srv-42", "client-1", "conv1", "hello")
	confirmed.Status = models.DeliverySent
	c.Confirm(confirmed)

	got := c.Messages("conv1")
	if len(got) != 1 {
		t.Fatalf("confirmed message duplicated: %d entries", len(got))
	}
	if got[0].ID != "srv-42" || got[0].Status != models.DeliverySent {
		t.Errorf("pending entry not promoted: %v", got[0])
	}
}

func TestConfirm_AppendsWhenNoPendingMatch(t *testing.T) {
	c := New(nil)
	c.Replace("conv1", []models.Message{msg("1", "", "conv1", "old")})

	c.Confirm(msg("2", "", "conv1", "from another client"))

	got := c.Messages("conv1")
	if len(got) != 2 || got[1].ID != "2" {
		t.Errorf("expected appended confirmed message, got %v", got)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	c := New(nil)
	c.Replace("conv1", []models.Message{msg("1", "", "conv1", "first")})

	snapshot := c.Messages("conv1")
	c.AddOptimistic(msg("", "c2", "conv1", "second"))

	if len(snapshot) != 1 {
		t.Errorf("snapshot mutated by later write: %v", snapshot)
	}
}

func TestInvalidate_TriggersRefetch(t *testing.T) {
	var refetched []string
	c := New(func(conversationID string) {
		refetched = append(refetched, conversationID)
	})

	c.Replace("conv1", []models.Message{msg("1", "", "conv1", "first")})
	c.AddOptimistic(msg("", "c1", "conv1", "pending"))

	c.Invalidate("conv1")

	if got := c.Messages("conv1"); got != nil {
		t.Errorf("expected empty list after invalidate, got %v", got)
	}
	if len(refetched) != 1 || refetched[0] != "conv1" {
		t.Errorf("refetch not triggered: %v", refetched)
	}
}

func TestInvalidateAll(t *testing.T) {
	var refetched []string
	c := New(func(conversationID string) {
		refetched = append(refetched, conversationID)
	})

	c.Replace("conv1", []models.Message{msg("1", "", "conv1", "a")})
	c.Replace("conv2", []models.Message{msg("2", "", "conv2", "b")})

	c.InvalidateAll()

	if c.Messages("conv1") != nil || c.Messages("conv2") != nil {
		t.Error("expected all lists dropped")
	}
	if len(refetched) != 2 {
		t.Errorf("expected 2 refetches, got %v", refetched)
	}
}
