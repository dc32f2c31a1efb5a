package database

import (
	"context"
	"errors"
	"testing"

	"chatgate/pkg/interfaces"
	"chatgate/pkg/types"
)

func TestChannels_CreateMakesOwner(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	channel, err := manager.CreateChannel(ctx, "  general  ", "alice")
	if err != nil {
		t.Fatalf("CreateChannel failed: %v", err)
	}
	if channel.Name != "general" || channel.CreatedBy != "alice" || channel.ID <= 0 {
		t.Errorf("Unexpected channel: %+v", channel)
	}

	role, err := manager.MemberRole(ctx, channel.ID, "alice")
	if err != nil || role != RoleOwner {
		t.Errorf("Expected creator to be owner, got %q %v", role, err)
	}

	got, err := manager.GetChannel(ctx, channel.ID)
	if err != nil {
		t.Fatalf("GetChannel failed: %v", err)
	}
	if got.Name != "general" {
		t.Errorf("Expected general, got %s", got.Name)
	}
}

func TestChannels_CreateValidation(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	if _, err := manager.CreateChannel(ctx, "x", "alice"); !errors.Is(err, types.ErrInvalidChannelName) {
		t.Errorf("Expected ErrInvalidChannelName, got %v", err)
	}

	if _, err := manager.CreateChannel(ctx, "General", "alice"); err != nil {
		t.Fatalf("CreateChannel failed: %v", err)
	}
	if _, err := manager.CreateChannel(ctx, "general", "bob"); !errors.Is(err, interfaces.ErrChannelExists) {
		t.Errorf("Expected case-insensitive ErrChannelExists, got %v", err)
	}
}

func TestChannels_GetMissing(t *testing.T) {
	manager := setupTestDB(t)

	if _, err := manager.GetChannel(context.Background(), 77); !errors.Is(err, interfaces.ErrChannelNotFound) {
		t.Errorf("Expected ErrChannelNotFound, got %v", err)
	}
}

func TestChannels_Membership(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()
	channel := seedChannel(t, manager, "general", "alice")

	ok, err := manager.IsMember(ctx, channel.ID, "bob")
	if err != nil || ok {
		t.Fatalf("bob should not be a member yet: %v %v", ok, err)
	}

	if err := manager.AddMember(ctx, channel.ID, "bob", ""); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	// Re-adding keeps the original role
	if err := manager.AddMember(ctx, channel.ID, "alice", RoleMember); err != nil {
		t.Fatalf("AddMember for existing member failed: %v", err)
	}
	if role, _ := manager.MemberRole(ctx, channel.ID, "alice"); role != RoleOwner {
		t.Errorf("Existing owner should keep role, got %s", role)
	}
	if role, _ := manager.MemberRole(ctx, channel.ID, "bob"); role != RoleMember {
		t.Errorf("Expected default member role, got %s", role)
	}

	ok, err = manager.IsMember(ctx, channel.ID, "bob")
	if err != nil || !ok {
		t.Errorf("bob should be a member: %v %v", ok, err)
	}

	if err := manager.RemoveMember(ctx, channel.ID, "bob"); err != nil {
		t.Fatalf("RemoveMember failed: %v", err)
	}
	if err := manager.RemoveMember(ctx, channel.ID, "bob"); !errors.Is(err, interfaces.ErrNotMember) {
		t.Errorf("Expected ErrNotMember on second removal, got %v", err)
	}
	if ok, _ := manager.IsMember(ctx, channel.ID, "bob"); ok {
		t.Error("Membership revocation must be visible immediately")
	}

	if err := manager.AddMember(ctx, channel.ID, "carol", "admin"); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("Expected ErrInvalidRole, got %v", err)
	}
	if err := manager.AddMember(ctx, 999, "carol", RoleMember); !errors.Is(err, interfaces.ErrChannelNotFound) {
		t.Errorf("Expected ErrChannelNotFound, got %v", err)
	}
}

func TestChannels_ListUserChannels(t *testing.T) {
	manager := setupTestDB(t)
	seedChannel(t, manager, "zeta", "alice", "bob")
	seedChannel(t, manager, "Alpha", "bob")
	seedChannel(t, manager, "hidden", "carol")

	channels, err := manager.ListUserChannels(context.Background(), "bob")
	if err != nil {
		t.Fatalf("ListUserChannels failed: %v", err)
	}
	if len(channels) != 2 || channels[0].Name != "Alpha" || channels[1].Name != "zeta" {
		t.Errorf("Unexpected channels: %+v", channels)
	}

	channels, err = manager.ListUserChannels(context.Background(), "nobody")
	if err != nil || channels == nil || len(channels) != 0 {
		t.Errorf("Expected empty list, got %v %v", channels, err)
	}
}

func TestUsers_UpsertRenames(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()
	channel := seedChannel(t, manager, "general", "alice")
	message := seedMessages(t, manager, channel.ID, "alice", "hi")[0]

	for _, name := range []string{"Alice", "Alice", "Alicia"} {
		if err := manager.UpsertUser(ctx, types.Identity{UserID: "alice", Username: name}); err != nil {
			t.Fatalf("UpsertUser(%s) failed: %v", name, err)
		}
	}

	got, err := manager.GetMessage(ctx, message.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got.Username != "Alicia" {
		t.Errorf("Expected latest username, got %s", got.Username)
	}
}

func TestReactions_Idempotent(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()
	channel := seedChannel(t, manager, "general", "alice", "bob")
	message := seedMessages(t, manager, channel.ID, "alice", "vote")[0]

	for i := 0; i < 2; i++ {
		if err := manager.AddReaction(ctx, message.ID, "bob", "👍"); err != nil {
			t.Fatalf("AddReaction failed: %v", err)
		}
	}

	groups, err := manager.ListReactions(ctx, message.ID)
	if err != nil {
		t.Fatalf("ListReactions failed: %v", err)
	}
	if len(groups) != 1 || groups[0].Count != 1 {
		t.Fatalf("Expected exactly one reaction record, got %+v", groups)
	}

	if err := manager.RemoveReaction(ctx, message.ID, "alice", "🎉"); err != nil {
		t.Errorf("Removing a missing reaction should not error, got %v", err)
	}
	groups, _ = manager.ListReactions(ctx, message.ID)
	if len(groups) != 1 || groups[0].Count != 1 {
		t.Errorf("State should be unchanged, got %+v", groups)
	}

	if err := manager.RemoveReaction(ctx, message.ID, "bob", "👍"); err != nil {
		t.Fatalf("RemoveReaction failed: %v", err)
	}
	groups, _ = manager.ListReactions(ctx, message.ID)
	if len(groups) != 0 {
		t.Errorf("Expected no reactions, got %+v", groups)
	}
}

func TestReactions_Aggregation(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()
	if err := manager.UpsertUser(ctx, types.Identity{UserID: "bob", Username: "Bob"}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	channel := seedChannel(t, manager, "general", "alice", "bob", "carol")
	message := seedMessages(t, manager, channel.ID, "alice", "party")[0]

	add := func(userID, emoji string) {
		t.Helper()
		if err := manager.AddReaction(ctx, message.ID, userID, emoji); err != nil {
			t.Fatalf("AddReaction failed: %v", err)
		}
	}
	add("bob", "🎉")
	add("alice", "👍")
	add("carol", "🎉")

	groups, err := manager.ListReactions(ctx, message.ID)
	if err != nil {
		t.Fatalf("ListReactions failed: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("Expected 2 groups, got %+v", groups)
	}
	if groups[0].Emoji != "🎉" || groups[0].Count != 2 {
		t.Errorf("Expected first group 🎉x2, got %+v", groups[0])
	}
	if groups[0].Users[0].Username != "Bob" || groups[0].Users[1].Username != "carol" {
		t.Errorf("Unexpected users: %+v", groups[0].Users)
	}
	if groups[1].Emoji != "👍" || groups[1].Count != 1 {
		t.Errorf("Expected second group 👍x1, got %+v", groups[1])
	}
}

func TestReactions_MissingMessage(t *testing.T) {
	manager := setupTestDB(t)

	err := manager.AddReaction(context.Background(), 404, "bob", "👍")
	if !errors.Is(err, interfaces.ErrMessageNotFound) {
		t.Errorf("Expected ErrMessageNotFound, got %v", err)
	}
}

func TestReactions_RemovedWithMessage(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()
	channel := seedChannel(t, manager, "general", "alice")
	message := seedMessages(t, manager, channel.ID, "alice", "soon gone")[0]

	if err := manager.AddReaction(ctx, message.ID, "alice", "👍"); err != nil {
		t.Fatalf("AddReaction failed: %v", err)
	}
	if _, err := manager.DeleteMessage(ctx, message.ID, "alice"); err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}

	groups, err := manager.ListReactions(ctx, message.ID)
	if err != nil {
		t.Fatalf("ListReactions failed: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("Expected reactions to cascade, got %+v", groups)
	}
}

func TestReadState_MonotonicWatermark(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()
	channel := seedChannel(t, manager, "general", "alice", "bob")
	messages := seedMessages(t, manager, channel.ID, "alice", "one", "two", "three", "four")

	info, err := manager.UnreadCount(ctx, "bob", channel.ID)
	if err != nil {
		t.Fatalf("UnreadCount failed: %v", err)
	}
	if info.Unread != 4 || info.LastReadMessageID != 0 {
		t.Errorf("Expected 4 unread with no watermark, got %+v", info)
	}

	state, err := manager.MarkRead(ctx, "bob", channel.ID, messages[2].ID)
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if state.LastReadMessageID != messages[2].ID {
		t.Errorf("Expected watermark %d, got %d", messages[2].ID, state.LastReadMessageID)
	}

	state, err = manager.MarkRead(ctx, "bob", channel.ID, messages[0].ID)
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if state.LastReadMessageID != messages[2].ID {
		t.Errorf("Watermark must not regress, got %d", state.LastReadMessageID)
	}

	info, err = manager.UnreadCount(ctx, "bob", channel.ID)
	if err != nil {
		t.Fatalf("UnreadCount failed: %v", err)
	}
	if info.Unread != 1 {
		t.Errorf("Expected 1 unread, got %d", info.Unread)
	}

	if _, err := manager.MarkRead(ctx, "bob", channel.ID, -1); !errors.Is(err, types.ErrInvalidMessageID) {
		t.Errorf("Expected ErrInvalidMessageID, got %v", err)
	}
}

func TestReadState_UnreadForUser(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()
	general := seedChannel(t, manager, "general", "alice", "bob")
	random := seedChannel(t, manager, "random", "alice", "bob")
	seedChannel(t, manager, "private", "alice")

	seedMessages(t, manager, general.ID, "alice", "a", "b")
	last := seedMessages(t, manager, random.ID, "alice", "c")[0]
	if _, err := manager.MarkRead(ctx, "bob", random.ID, last.ID); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}

	infos, err := manager.UnreadForUser(ctx, "bob")
	if err != nil {
		t.Fatalf("UnreadForUser failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("Expected 2 channels, got %+v", infos)
	}
	if infos[0].ChannelID != general.ID || infos[0].Unread != 2 {
		t.Errorf("Unexpected general unread: %+v", infos[0])
	}
	if infos[1].ChannelID != random.ID || infos[1].Unread != 0 || infos[1].LastReadMessageID != last.ID {
		t.Errorf("Unexpected random unread: %+v", infos[1])
	}
}
