package ws

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pliu/chatterbox/internal/models"
)

// Registry indexes live sessions by user. A user may hold any number of
// sessions at once, one per device or tab.
type Registry struct {
	mu     sync.RWMutex
	byUser map[models.UserID]map[string]Session
	count  int
	log    logrus.FieldLogger
}

func NewRegistry(log logrus.FieldLogger) *Registry {
	return &Registry{
		byUser: make(map[models.UserID]map[string]Session),
		log:    log,
	}
}

func (r *Registry) Register(s Session) error {
	user := s.UserID()
	if user == "" {
		return ErrUnauthenticated
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := r.byUser[user]
	if sessions == nil {
		sessions = make(map[string]Session)
		r.byUser[user] = sessions
	}
	if _, ok := sessions[s.ID()]; !ok {
		sessions[s.ID()] = s
		r.count++
	}
	return nil
}

// Unregister removes s. It reports whether s was registered; calling it
// again is a no-op.
func (r *Registry) Unregister(s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remove(s.UserID(), s.ID())
}

func (r *Registry) remove(user models.UserID, id string) bool {
	sessions := r.byUser[user]
	if _, ok := sessions[id]; !ok {
		return false
	}
	delete(sessions, id)
	if len(sessions) == 0 {
		delete(r.byUser, user)
	}
	r.count--
	return true
}

// Connections returns a snapshot of the user's sessions.
func (r *Registry) Connections(user models.UserID) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.byUser[user]))
	for _, s := range r.byUser[user] {
		out = append(out, s)
	}
	return out
}

// Len is the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Push delivers payload to every session of user except the one with ID
// except, and returns how many accepted it. Sessions that refuse the
// payload are skipped; they leave the registry when their handler ends.
func (r *Registry) Push(user models.UserID, payload []byte, except string) int {
	delivered := 0
	for _, s := range r.Connections(user) {
		if s.ID() == except {
			continue
		}
		if err := s.Send(payload); err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{
				"user_id": user,
				"conn_id": s.ID(),
			}).Debug("push failed")
			continue
		}
		delivered++
	}
	return delivered
}
