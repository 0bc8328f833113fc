package models

// Session is the resolved identity of the logged-in user. A nil *Session means absent.
type Session struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
}

// Clone returns a copy of s, or nil when s is nil.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}
