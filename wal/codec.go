package wal

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Entry wire format:
//
//	[Type:1][SeqNum:8][IDLen:4][ID bytes][VectorLen:4][Vector: N*4 float32 LE]
//
// OpCheckpoint entries carry no ID and no vector.
func (w *WAL) encodeEntry(entry *Entry) error {
	if err := binary.Write(w.writer, binary.LittleEndian, entry.Type); err != nil {
		return err
	}
	if err := binary.Write(w.writer, binary.LittleEndian, entry.SeqNum); err != nil {
		return err
	}

	if entry.Type == OpCheckpoint {
		return nil
	}

	if err := binary.Write(w.writer, binary.LittleEndian, uint32(len(entry.CardID))); err != nil {
		return err
	}
	if _, err := io.WriteString(w.writer, entry.CardID); err != nil {
		return err
	}

	if err := binary.Write(w.writer, binary.LittleEndian, uint32(len(entry.Vector))); err != nil {
		return err
	}
	if len(entry.Vector) > 0 {
		buf := make([]byte, len(entry.Vector)*4)
		for i, v := range entry.Vector {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		}
		if _, err := w.writer.Write(buf); err != nil {
			return err
		}
	}

	return nil
}

func decodeEntry(reader io.Reader, entry *Entry) error {
	if err := binary.Read(reader, binary.LittleEndian, &entry.Type); err != nil {
		return err
	}
	if err := binary.Read(reader, binary.LittleEndian, &entry.SeqNum); err != nil {
		return err
	}

	if entry.Type == OpCheckpoint {
		entry.CardID = ""
		entry.Vector = nil
		return nil
	}
	if entry.Type != OpAdd && entry.Type != OpReplace {
		return fmt.Errorf("unknown WAL entry type: %d", entry.Type)
	}

	var idLen uint32
	if err := binary.Read(reader, binary.LittleEndian, &idLen); err != nil {
		return err
	}
	idBytes := make([]byte, idLen)
	if _, err := io.ReadFull(reader, idBytes); err != nil {
		return err
	}
	entry.CardID = string(idBytes)

	var vectorLen uint32
	if err := binary.Read(reader, binary.LittleEndian, &vectorLen); err != nil {
		return err
	}
	entry.Vector = nil
	if vectorLen > 0 {
		buf := make([]byte, vectorLen*4)
		if _, err := io.ReadFull(reader, buf); err != nil {
			return err
		}
		entry.Vector = make([]float32, vectorLen)
		for i := range entry.Vector {
			entry.Vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
	}

	return nil
}

func (w *WAL) flushLocked() error {
	if err := w.bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	if w.compressed {
		if err := w.compressor.Flush(); err != nil {
			return fmt.Errorf("failed to flush compressor: %w", err)
		}
	}
	return nil
}
