package presence

import (
	"github.com/matheus3301/chatsync/internal/model"
)

// Cache holds the last known presence of each watched user.
type Cache struct {
	users map[string]model.User
}

func NewCache() *Cache {
	return &Cache{users: make(map[string]model.User)}
}

// Set replaces uid's entry and reports whether presence or lastSeen changed.
func (c *Cache) Set(u model.User) bool {
	prev, ok := c.users[u.ID]
	c.users[u.ID] = u
	return !ok || prev.Presence != u.Presence || !prev.LastSeen.Equal(u.LastSeen)
}

func (c *Cache) Get(uid string) (model.User, bool) {
	u, ok := c.users[uid]
	return u, ok
}

// Online reports whether uid is known to be online.
func (c *Cache) Online(uid string) bool {
	return c.users[uid].Presence == model.Online
}
