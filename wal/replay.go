package wal

import (
	"fmt"
	"io"
)

// Replay invokes fn for every logged operation since the last checkpoint,
// in append order. Replay stops at a checkpoint marker or at the end of the
// log; a torn trailing entry (partial write from a crash) ends the replay
// cleanly rather than failing it. An error from fn aborts the replay.
func (w *WAL) Replay(fn func(entry *Entry) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("wal: closed")
	}

	currentPos, err := w.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("failed to save WAL position: %w", err)
	}
	if _, err := w.file.Seek(w.dataOffset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek WAL data offset: %w", err)
	}

	reader, err := w.entryReader()
	if err != nil {
		return err
	}

	for {
		var entry Entry
		if err := decodeEntry(reader, &entry); err != nil {
			// EOF or a torn trailing entry: everything durable has been
			// replayed.
			break
		}
		if entry.Type == OpCheckpoint {
			break
		}
		if err := fn(&entry); err != nil {
			_, _ = w.file.Seek(currentPos, io.SeekStart)
			return err
		}
	}

	if _, err := w.file.Seek(currentPos, io.SeekStart); err != nil {
		return fmt.Errorf("failed to restore WAL position: %w", err)
	}
	return nil
}
