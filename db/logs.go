package db

// Log ring buffer bounds: once the log exceeds logCap entries it is cut to the newest logTrim.
const (
	logCap  = 1000
	logTrim = 800
)

// AppendLog records an entry, filling id and time when absent.
func (s *Store) AppendLog(entry LogEntry) (*LogEntry, error) {
	if entry.ID == "" {
		entry.ID = s.NewID("log")
	}
	if entry.Time.IsZero() {
		entry.Time = s.Now()
	}

	unlock := s.lock(DocLogs)
	defer unlock()

	doc := &LogsDoc{}
	if _, err := s.readDoc(DocLogs, doc); err != nil {
		return nil, err
	}
	doc.Items = append(doc.Items, &entry)
	if len(doc.Items) > logCap {
		doc.Items = append([]*LogEntry(nil), doc.Items[len(doc.Items)-logTrim:]...)
	}
	if err := s.writeDoc(DocLogs, doc); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListLogs returns the newest limit entries, oldest first. limit is clamped
// to 1..1000; non-positive means 100.
func (s *Store) ListLogs(limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > logCap {
		limit = logCap
	}

	unlock := s.lock(DocLogs)
	defer unlock()

	doc := &LogsDoc{}
	if _, err := s.readDoc(DocLogs, doc); err != nil {
		return nil, err
	}
	items := doc.Items
	if items == nil {
		items = []*LogEntry{}
	}
	if len(items) > limit {
		items = items[len(items)-limit:]
	}
	return items, nil
}

// ClearLogs empties the log.
func (s *Store) ClearLogs() error {
	unlock := s.lock(DocLogs)
	defer unlock()
	return s.writeDoc(DocLogs, &LogsDoc{Items: []*LogEntry{}})
}
