package db

import "fmt"

// RecentMemoryCount is how many memory items are injected into prompts.
const RecentMemoryCount = 5

// ListMemory returns all memory items in insertion order.
func (s *Store) ListMemory() ([]*MemoryItem, error) {
	doc, err := s.ReadMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to list memory: %w", err)
	}
	return doc.Items, nil
}

// AddMemory stores a new memory item.
func (s *Store) AddMemory(title, content string, tags []string) (*MemoryItem, error) {
	if title == "" {
		title = DefaultMemoryTitle
	}
	if tags == nil {
		tags = []string{}
	}
	item := &MemoryItem{
		ID:        s.NewID("mem"),
		Title:     title,
		Content:   content,
		CreatedAt: s.Now(),
		Tags:      tags,
	}
	err := s.UpdateMemory(func(doc *MemoryDoc) error {
		doc.Items = append(doc.Items, item)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add memory: %w", err)
	}
	return item, nil
}

// UpdateMemoryItem replaces title, content and tags of an existing item.
func (s *Store) UpdateMemoryItem(id, title, content string, tags []string) (*MemoryItem, error) {
	if tags == nil {
		tags = []string{}
	}
	var out MemoryItem
	err := s.UpdateMemory(func(doc *MemoryDoc) error {
		for _, it := range doc.Items {
			if it.ID == id {
				it.Title = title
				it.Content = content
				it.Tags = tags
				out = *it
				return nil
			}
		}
		return ErrMemoryNotFound
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteMemory removes a memory item.
func (s *Store) DeleteMemory(id string) error {
	return s.UpdateMemory(func(doc *MemoryDoc) error {
		for i, it := range doc.Items {
			if it.ID == id {
				doc.Items = append(doc.Items[:i], doc.Items[i+1:]...)
				return nil
			}
		}
		return ErrMemoryNotFound
	})
}

// Recent returns the last n items, oldest first.
func (d *MemoryDoc) Recent(n int) []*MemoryItem {
	if len(d.Items) <= n {
		return d.Items
	}
	return d.Items[len(d.Items)-n:]
}
