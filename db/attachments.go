package db

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"companion-agent/utils"
)

const attachmentsDir = "attachments"

// StoreAttachments copies each source file into
// attachments/YYYY/MM/<conversation>/<message>/ under the data dir and
// returns attachments whose paths are relative to the data dir.
func (s *Store) StoreAttachments(convID, msgID string, at time.Time, sources []Attachment) ([]Attachment, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	rel := path.Join(attachmentsDir, at.Format("2006"), at.Format("01"), convID, msgID)

	stored := make([]Attachment, 0, len(sources))
	for i, src := range sources {
		if src.Path == "" {
			continue
		}
		mime := src.Mime
		if mime == "" {
			mime = utils.GetMimeType(src.Path)
		}
		name := fmt.Sprintf("%02d-%s", i, utils.SafeFilename(filepath.Base(src.Path)))
		relPath := path.Join(rel, name)
		if err := utils.CopyFile(src.Path, s.ResolveAttachment(relPath)); err != nil {
			for _, done := range stored {
				os.Remove(s.ResolveAttachment(done.Path))
			}
			return nil, &AttachmentError{Path: src.Path, Err: err}
		}
		stored = append(stored, Attachment{Path: relPath, Mime: mime})
	}
	return stored, nil
}

// ResolveAttachment maps a stored attachment path to an absolute file path.
// Absolute paths written by older versions are returned unchanged.
func (s *Store) ResolveAttachment(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.dataDir, filepath.FromSlash(p))
}

// ReadAttachment returns the bytes of a stored attachment.
func (s *Store) ReadAttachment(a Attachment) ([]byte, error) {
	data, err := os.ReadFile(s.ResolveAttachment(a.Path))
	if err != nil {
		return nil, &AttachmentError{Path: a.Path, Err: err}
	}
	return data, nil
}

// removeAttachments deletes the managed files of m. Files outside the
// managed tree are never touched. Errors are ignored.
func (s *Store) removeAttachments(m *Message) {
	dirs := map[string]bool{}
	for _, a := range m.Attachments {
		if !strings.HasPrefix(a.Path, attachmentsDir+"/") {
			continue
		}
		full := s.ResolveAttachment(a.Path)
		os.Remove(full)
		dirs[filepath.Dir(full)] = true
	}
	// Prune the message and conversation directories once empty.
	for dir := range dirs {
		if os.Remove(dir) == nil {
			os.Remove(filepath.Dir(dir))
		}
	}
}
