// Package wal provides the append log that closes the durability gap
// between checkpoints: every embedding insert is logged before it is
// applied, and the log is replayed at startup to recover inserts the last
// checkpoint missed.
package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// FileName is the WAL file name inside the configured directory.
const FileName = "cardex.wal"

// WAL is an append-only operation log with configurable fsync discipline.
type WAL struct {
	mu               sync.Mutex
	file             *os.File
	writer           io.Writer
	bufWriter        *bufio.Writer
	compressor       *zstd.Encoder
	decompressor     *zstd.Decoder
	seqNum           uint64
	filePath         string
	compressed       bool
	compressionLevel int
	dataOffset       int64 // start of the entry stream, after the header

	durabilityMode      DurabilityMode
	groupCommitInterval time.Duration
	groupCommitMaxOps   int
	groupCommitTicker   *time.Ticker
	groupCommitStopCh   chan struct{}
	groupCommitPending  int
	groupCommitWg       sync.WaitGroup

	syncCond        *sync.Cond
	persistedSeqNum uint64
}

// New opens (creating if needed) the WAL in the configured directory.
func New(optFns ...func(o *Options)) (*WAL, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	// Without a flush cadence there is no background worker, and an
	// append below the max-ops threshold would wait forever.
	if opts.DurabilityMode == DurabilityGroupCommit && opts.GroupCommitInterval <= 0 {
		opts.DurabilityMode = DurabilitySync
	}

	if err := os.MkdirAll(opts.Path, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	filePath := filepath.Join(opts.Path, FileName)

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}
	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat WAL file: %w", err)
	}

	w := &WAL{
		file:                file,
		filePath:            filePath,
		compressionLevel:    opts.CompressionLevel,
		durabilityMode:      opts.DurabilityMode,
		groupCommitInterval: opts.GroupCommitInterval,
		groupCommitMaxOps:   opts.GroupCommitMaxOps,
	}
	w.syncCond = sync.NewCond(&w.mu)

	if st.Size() == 0 {
		hdrLen, err := writeWALHeader(w.file, walHeaderInfo{
			Compressed:       opts.Compress,
			CompressionLevel: opts.CompressionLevel,
		})
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		w.dataOffset = hdrLen
		w.compressed = opts.Compress
	} else {
		hdrInfo, valid, err := readWALHeader(w.file)
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to read WAL header: %w", err)
		}
		if !valid {
			_ = file.Close()
			return nil, fmt.Errorf("invalid WAL header")
		}
		w.dataOffset = hdrInfo.HeaderLen
		w.compressed = hdrInfo.Compressed
		w.compressionLevel = hdrInfo.CompressionLevel
	}

	if _, err := w.file.Seek(w.dataOffset, io.SeekStart); err != nil {
		_ = w.file.Close()
		return nil, fmt.Errorf("failed to seek WAL data offset: %w", err)
	}

	if err := w.initCodecs(); err != nil {
		_ = file.Close()
		return nil, err
	}

	if err := w.scanForSeqNum(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to scan WAL: %w", err)
	}

	if w.durabilityMode == DurabilityGroupCommit && w.groupCommitInterval > 0 {
		w.groupCommitStopCh = make(chan struct{})
		w.groupCommitTicker = time.NewTicker(w.groupCommitInterval)
		w.groupCommitWg.Add(1)
		go w.groupCommitWorker()
	}

	return w, nil
}

func (w *WAL) initCodecs() error {
	if w.compressed {
		level := zstd.EncoderLevelFromZstd(w.compressionLevel)
		compressor, err := zstd.NewWriter(w.file, zstd.WithEncoderLevel(level))
		if err != nil {
			return fmt.Errorf("failed to create compressor: %w", err)
		}
		w.compressor = compressor
		w.bufWriter = bufio.NewWriter(compressor)
		w.writer = w.bufWriter

		decompressor, err := zstd.NewReader(nil)
		if err != nil {
			_ = compressor.Close()
			return fmt.Errorf("failed to create decompressor: %w", err)
		}
		w.decompressor = decompressor
	} else {
		w.bufWriter = bufio.NewWriter(w.file)
		w.writer = w.bufWriter
	}
	return nil
}

// FilePath returns the path to the WAL file.
func (w *WAL) FilePath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.filePath
}

// SeqNum returns the highest sequence number written so far.
func (w *WAL) SeqNum() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seqNum
}

// scanForSeqNum reads existing entries to find the next sequence number.
// A torn trailing entry (partial write from a crash) is repaired by
// rewriting the log from the intact entries, so later appends stay
// readable.
func (w *WAL) scanForSeqNum() error {
	maxSeqNum, torn, err := w.scanEntries(nil)
	if err != nil {
		return err
	}

	if torn {
		var entries []Entry
		if _, _, err := w.scanEntries(func(entry Entry) {
			entries = append(entries, entry)
		}); err != nil {
			return err
		}
		if err := w.truncate(); err != nil {
			return err
		}
		for i := range entries {
			if err := w.encodeEntry(&entries[i]); err != nil {
				return fmt.Errorf("failed to rewrite WAL entry: %w", err)
			}
		}
		if err := w.flushLocked(); err != nil {
			return err
		}
		if err := w.file.Sync(); err != nil {
			return err
		}
		w.seqNum = maxSeqNum
		w.persistedSeqNum = maxSeqNum
		return nil
	}

	w.seqNum = maxSeqNum
	w.persistedSeqNum = maxSeqNum
	_, err = w.file.Seek(0, io.SeekEnd)
	return err
}

// scanEntries walks the entry stream from the start, reporting the highest
// sequence number and whether the stream ends in a torn entry.
func (w *WAL) scanEntries(fn func(entry Entry)) (maxSeqNum uint64, torn bool, err error) {
	if _, err = w.file.Seek(w.dataOffset, io.SeekStart); err != nil {
		return 0, false, err
	}

	reader, err := w.entryReader()
	if err != nil {
		return 0, false, err
	}

	for {
		var entry Entry
		if derr := decodeEntry(reader, &entry); derr != nil {
			// io.EOF at an entry boundary is a clean end; anything else
			// means the tail is torn.
			torn = !errors.Is(derr, io.EOF)
			return maxSeqNum, torn, nil
		}
		if entry.SeqNum > maxSeqNum {
			maxSeqNum = entry.SeqNum
		}
		if fn != nil {
			fn(entry)
		}
	}
}

func (w *WAL) entryReader() (io.Reader, error) {
	if w.compressed {
		if err := w.decompressor.Reset(w.file); err != nil {
			return nil, fmt.Errorf("failed to reset decompressor: %w", err)
		}
		return w.decompressor, nil
	}
	return bufio.NewReader(w.file), nil
}

// Append logs an add or replace of a card's embedding and blocks until the
// entry is durable per the configured mode.
func (w *WAL) Append(op OperationType, cardID string, vector []float32) error {
	if op != OpAdd && op != OpReplace {
		return fmt.Errorf("wal: cannot append entry type %d", op)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return errors.New("wal: closed")
	}

	w.seqNum++
	entry := Entry{Type: op, SeqNum: w.seqNum, CardID: cardID, Vector: vector}
	if err := w.encodeEntry(&entry); err != nil {
		return fmt.Errorf("failed to encode WAL entry: %w", err)
	}
	if err := w.flushLocked(); err != nil {
		return err
	}

	return w.syncIfNeeded()
}

// syncIfNeeded performs fsync based on the configured durability mode.
func (w *WAL) syncIfNeeded() error {
	switch w.durabilityMode {
	case DurabilityAsync:
		return nil

	case DurabilitySync:
		return w.file.Sync()

	case DurabilityGroupCommit:
		w.groupCommitPending++
		targetSeq := w.seqNum

		if w.groupCommitPending >= w.groupCommitMaxOps {
			return w.doGroupCommit()
		}
		// Wait() releases w.mu so the background worker can flush.
		for w.persistedSeqNum < targetSeq {
			w.syncCond.Wait()
		}
		return nil

	default:
		return nil
	}
}

// doGroupCommit performs the fsync and wakes waiters. Caller holds w.mu.
func (w *WAL) doGroupCommit() error {
	if w.groupCommitPending == 0 {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.groupCommitPending = 0
	w.persistedSeqNum = w.seqNum
	w.syncCond.Broadcast()
	return nil
}

func (w *WAL) groupCommitWorker() {
	defer w.groupCommitWg.Done()

	for {
		select {
		case <-w.groupCommitStopCh:
			w.mu.Lock()
			_ = w.doGroupCommit()
			w.mu.Unlock()
			return

		case <-w.groupCommitTicker.C:
			w.mu.Lock()
			_ = w.doGroupCommit()
			w.mu.Unlock()
		}
	}
}

// Checkpoint writes a checkpoint marker, fsyncs, and truncates the log.
// Called by the persistence coordinator after a snapshot generation has
// committed.
func (w *WAL) Checkpoint() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seqNum++
	entry := Entry{Type: OpCheckpoint, SeqNum: w.seqNum}
	if err := w.encodeEntry(&entry); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}

	return w.truncate()
}

// truncate starts a fresh log file after a checkpoint.
func (w *WAL) truncate() error {
	if w.compressed && w.compressor != nil {
		if err := w.compressor.Close(); err != nil {
			return fmt.Errorf("failed to close compressor: %w", err)
		}
	}
	if err := w.file.Close(); err != nil {
		return err
	}

	file, err := os.OpenFile(w.filePath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to truncate WAL file: %w", err)
	}
	w.file = file

	hdrLen, err := writeWALHeader(w.file, walHeaderInfo{
		Compressed:       w.compressed,
		CompressionLevel: w.compressionLevel,
	})
	if err != nil {
		_ = w.file.Close()
		return err
	}
	w.dataOffset = hdrLen
	if _, err := w.file.Seek(w.dataOffset, io.SeekStart); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("failed to seek WAL data offset: %w", err)
	}

	if w.compressed {
		level := zstd.EncoderLevelFromZstd(w.compressionLevel)
		compressor, err := zstd.NewWriter(file, zstd.WithEncoderLevel(level))
		if err != nil {
			_ = file.Close()
			return fmt.Errorf("failed to recreate compressor: %w", err)
		}
		w.compressor = compressor
		w.bufWriter = bufio.NewWriter(compressor)
		w.writer = w.bufWriter
	} else {
		w.bufWriter = bufio.NewWriter(file)
		w.writer = w.bufWriter
	}

	w.seqNum = 0
	w.persistedSeqNum = 0
	w.groupCommitPending = 0

	return nil
}

// Len returns the number of readable entries. Intended for tests.
func (w *WAL) Len() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	currentPos, err := w.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	if _, err := w.file.Seek(w.dataOffset, io.SeekStart); err != nil {
		return 0, err
	}

	reader, err := w.entryReader()
	if err != nil {
		return 0, err
	}

	count := 0
	for {
		var entry Entry
		if err := decodeEntry(reader, &entry); err != nil {
			break
		}
		count++
	}

	if _, err := w.file.Seek(currentPos, io.SeekStart); err != nil {
		return count, err
	}
	return count, nil
}

// Close flushes pending entries and closes the log. Idempotent.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}

	if w.groupCommitTicker != nil {
		close(w.groupCommitStopCh)
		w.mu.Unlock()
		w.groupCommitWg.Wait()
		w.mu.Lock()
		w.groupCommitTicker.Stop()
		w.groupCommitTicker = nil
	}

	if w.bufWriter != nil {
		if err := w.bufWriter.Flush(); err != nil {
			return fmt.Errorf("failed to flush buffer: %w", err)
		}
	}
	if w.compressed && w.compressor != nil {
		if err := w.compressor.Close(); err != nil {
			return fmt.Errorf("failed to close compressor: %w", err)
		}
	}
	if w.decompressor != nil {
		w.decompressor.Close()
	}

	err := w.file.Close()
	w.file = nil
	return err
}
