package extract

// BreakConn closes the pinned connection while leaving the session in use.
func (s *Session) BreakConn() error {
	return s.conn.Close()
}
