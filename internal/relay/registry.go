package relay

// Conn is the transport-level handle the hub delivers to. ID is assigned
// by the transport and must be unique for the life of the process.
//
// The hub calls Send and Close only from its own goroutine.
type Conn interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Identity is the caller-supplied user bound to a connection. It is not
// verified by the hub.
type Identity struct {
	UserID   string
	Username string
}

type session struct {
	conn     Conn
	identity *Identity
	// pinned is set when the transport verified the identity at handshake.
	pinned bool
}

func (s *session) userID() string {
	if s.identity == nil {
		return ""
	}
	return s.identity.UserID
}

func (s *session) username() string {
	if s.identity == nil {
		return ""
	}
	return s.identity.Username
}

// registry maps connection ids to their session. A userId may be bound to
// any number of sessions at once.
type registry struct {
	sessions map[string]*session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*session)}
}

// add records a connection with no identity. Re-adding an id replaces the
// previous session.
func (r *registry) add(c Conn) *session {
	s := &session{conn: c}
	r.sessions[c.ID()] = s
	return s
}

func (r *registry) get(id string) (*session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// bind overwrites the identity of a connection; last write wins.
func (r *registry) bind(id string, ident Identity) bool {
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.identity = &ident
	return true
}

// remove drops the connection and returns its session so the caller can
// emit presence and typing cleanup. Missing ids return false.
func (r *registry) remove(id string) (*session, bool) {
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

func (r *registry) len() int { return len(r.sessions) }

func (r *registry) authenticated() int {
	n := 0
	for _, s := range r.sessions {
		if s.identity != nil {
			n++
		}
	}
	return n
}

// each visits every session. The callback must not mutate the registry.
func (r *registry) each(fn func(*session)) {
	for _, s := range r.sessions {
		fn(s)
	}
}
