package ui

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/joescharf/ghcanvas/internal/models"
	"github.com/joescharf/ghcanvas/internal/session"
)

// viewState is the ephemeral view state of one session.
type viewState struct {
	mu sync.Mutex

	key        string
	list       *IssueListView
	comments   map[int][]models.Comment
	standalone map[string]*IssueItemView
	forms      map[string]*FormView
	canvas     Canvas
	chatErr    string
	flash      string
	showCreate bool
	lastUsed   time.Time
}

func newViewState(key string) *viewState {
	return &viewState{
		key:        key,
		comments:   map[int][]models.Comment{},
		standalone: map[string]*IssueItemView{},
		forms:      map[string]*FormView{},
	}
}

// form returns the form for id, creating it with initial values.
func (s *viewState) form(id, title, body string) *FormView {
	f, ok := s.forms[id]
	if !ok {
		f = &FormView{ID: id, Title: title, Body: body}
		s.forms[id] = f
	}
	return f
}

func (s *viewState) setFlash(msg string) { s.flash = msg }

// takeFlash returns the pending inline error once.
func (s *viewState) takeFlash() string {
	msg := s.flash
	s.flash = ""
	return msg
}

// setCommentCount updates the comment count wherever issue n is shown.
func (s *viewState) setCommentCount(n, count int) {
	if s.list != nil {
		for i := range s.list.Issues {
			if s.list.Issues[i].Number == n {
				s.list.Issues[i].Comments = count
			}
		}
	}
	for _, item := range s.standalone {
		if item.Issue.Number == n {
			item.Issue.Comments = count
		}
	}
}

// maxStates bounds the number of sessions with cached view state.
const maxStates = 1024

// cache holds view state per session id. State is dropped when the selected
// repository or the access token changes.
type cache struct {
	mu     sync.Mutex
	states map[string]*viewState
	now    func() time.Time
}

func newCache() *cache {
	return &cache{states: map[string]*viewState{}, now: time.Now}
}

// stateKey identifies the account and repository a view state was derived
// for. The token is hashed so it is never held in the cache.
func stateKey(sess *session.Session) string {
	key := ""
	if repo := sess.SelectedRepository(); repo != nil {
		key = repo.Owner + "/" + repo.Repo
	}
	sum := sha256.Sum256([]byte(sess.AccessToken()))
	return key + "@" + hex.EncodeToString(sum[:8])
}

// get returns the locked view state for the session. The caller must unlock.
func (c *cache) get(sess *session.Session) *viewState {
	key := stateKey(sess)

	c.mu.Lock()
	st, ok := c.states[sess.ID]
	if !ok || st.key != key {
		st = newViewState(key)
		c.states[sess.ID] = st
		c.evict()
	}
	st.lastUsed = c.now()
	c.mu.Unlock()

	st.mu.Lock()
	return st
}

// evict removes the least recently used state once the cache is over
// capacity. c.mu must be held.
func (c *cache) evict() {
	if len(c.states) <= maxStates {
		return
	}
	var oldest string
	var oldestAt time.Time
	for id, st := range c.states {
		if oldest == "" || st.lastUsed.Before(oldestAt) {
			oldest, oldestAt = id, st.lastUsed
		}
	}
	delete(c.states, oldest)
}

func (c *cache) drop(sessionID string) {
	c.mu.Lock()
	delete(c.states, sessionID)
	c.mu.Unlock()
}

func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}
