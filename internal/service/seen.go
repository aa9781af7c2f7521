package service

import "sync"

// seenMessages remembers recently handled message ids per chat, evicting the
// oldest id once a chat holds limit entries.
type seenMessages struct {
	limit int

	mu    sync.Mutex
	chats map[string]*seenChat
}

type seenChat struct {
	ids   map[string]struct{}
	order []string
}

func newSeenMessages(limit int) *seenMessages {
	if limit <= 0 {
		limit = 1
	}
	return &seenMessages{limit: limit, chats: make(map[string]*seenChat)}
}

// Add records id for chat and reports whether it was new.
func (s *seenMessages) Add(chat, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chat]
	if !ok {
		c = &seenChat{ids: make(map[string]struct{})}
		s.chats[chat] = c
	}
	if _, dup := c.ids[id]; dup {
		return false
	}
	if len(c.order) >= s.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.ids, oldest)
	}
	c.ids[id] = struct{}{}
	c.order = append(c.order, id)
	return true
}
