package memstore

import (
	"context"
	"sort"
	"strings"

	"space-chat/internal/models"
	"space-chat/internal/repositories"
)

// CreateMessage implements repositories.MessageRepository.
func (s *Store) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[msg.RoomID]
	if !ok {
		return models.Message{}, repositories.ErrRoomNotFound
	}
	room.LastSeq++
	s.rooms[room.ID] = room

	msg.ID = s.id()
	msg.Seq = room.LastSeq
	msg.IsDeleted = false
	msg.EditedAt = nil
	msg.CreatedAt = s.now()
	s.messages[msg.ID] = msg
	return msg, nil
}

// GetMessage implements repositories.MessageRepository.
func (s *Store) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return msg, nil
}

// ListMessages implements repositories.MessageRepository.
func (s *Store) ListMessages(ctx context.Context, roomID int, limit, offset int) ([]models.Message, error) {
	return s.page(roomID, func(models.Message) bool { return true }, limit, offset), nil
}

// SearchMessages implements repositories.MessageRepository.
func (s *Store) SearchMessages(ctx context.Context, roomID int, query string, limit, offset int) ([]models.Message, error) {
	q := strings.ToLower(query)
	return s.page(roomID, func(m models.Message) bool {
		return strings.Contains(strings.ToLower(m.Content), q)
	}, limit, offset), nil
}

func (s *Store) page(roomID int, keep func(models.Message) bool, limit, offset int) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := []models.Message{}
	for _, m := range s.messages {
		if m.RoomID == roomID && !m.IsDeleted && keep(m) {
			all = append(all, m)
		}
	}
	// newest first to apply the page, then back to chronological
	sort.Slice(all, func(i, j int) bool { return all[i].Seq > all[j].Seq })
	if offset >= len(all) {
		return []models.Message{}
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Seq < all[j].Seq })
	return all
}

// UpdateMessageContent implements repositories.MessageRepository.
func (s *Store) UpdateMessageContent(ctx context.Context, messageID int, content string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok || msg.IsDeleted {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	now := s.now()
	msg.Content = content
	msg.EditedAt = &now
	s.messages[messageID] = msg
	return msg, nil
}

// MarkMessageDeleted implements repositories.MessageRepository.
func (s *Store) MarkMessageDeleted(ctx context.Context, messageID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok || msg.IsDeleted {
		return repositories.ErrMessageNotFound
	}
	msg.IsDeleted = true
	s.messages[messageID] = msg
	return nil
}

// ToggleReaction implements repositories.ReactionRepository.
func (s *Store) ToggleReaction(ctx context.Context, messageID, userID int, reaction string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[messageID]; !ok {
		return "", repositories.ErrMessageNotFound
	}
	k := reactionKey{messageID, userID}
	cur, ok := s.reactions[k]
	if ok && cur.Reaction == reaction {
		delete(s.reactions, k)
		return "", nil
	}
	s.reactions[k] = models.Reaction{MessageID: messageID, UserID: userID, Reaction: reaction, CreatedAt: s.now()}
	return reaction, nil
}

// CountReactions implements repositories.ReactionRepository.
func (s *Store) CountReactions(ctx context.Context, messageID int) ([]models.ReactionCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byKind := map[string]int{}
	for k, r := range s.reactions {
		if k.message == messageID {
			byKind[r.Reaction]++
		}
	}
	counts := make([]models.ReactionCount, 0, len(byKind))
	for reaction, n := range byKind {
		counts = append(counts, models.ReactionCount{Reaction: reaction, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Reaction < counts[j].Reaction
	})
	return counts, nil
}
