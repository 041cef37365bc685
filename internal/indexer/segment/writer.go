package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"
)

// MagicBytes identifies a valid .spdx segment file.
const (
	MagicBytes    uint32 = 0x53504458
	FormatVersion uint32 = 2
	HeaderSize    int    = 64
	FooterSize    int    = 8
)

// SegmentHeader is the 64-byte header written at the start of every segment.
type SegmentHeader struct {
	Magic      uint32
	Version    uint32
	DocCount   uint32
	TermCount  uint32
	CreatedAt  int64
	BodyOffset int64
	BodySize   int64
	Codec      Codec
}

func (h SegmentHeader) encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.DocCount)
	binary.LittleEndian.PutUint32(buf[12:16], h.TermCount)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.BodyOffset))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(h.BodySize))
	buf[40] = byte(h.Codec)
	return buf
}

func decodeHeader(buf []byte) SegmentHeader {
	return SegmentHeader{
		Magic:      binary.LittleEndian.Uint32(buf[0:4]),
		Version:    binary.LittleEndian.Uint32(buf[4:8]),
		DocCount:   binary.LittleEndian.Uint32(buf[8:12]),
		TermCount:  binary.LittleEndian.Uint32(buf[12:16]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(buf[16:24])),
		BodyOffset: int64(binary.LittleEndian.Uint64(buf[24:32])),
		BodySize:   int64(binary.LittleEndian.Uint64(buf[32:40])),
		Codec:      Codec(buf[40]),
	}
}

// Writer serialises segment data into new .spdx files.
type Writer struct {
	dataDir string
	codec   Codec
}

// NewWriter creates a Writer that writes segments into the given directory.
func NewWriter(dataDir string, codec Codec) *Writer {
	return &Writer{dataDir: dataDir, codec: codec}
}

// FileName is the on-disk name of the segment with the given id.
func FileName(id uint64) string {
	return fmt.Sprintf("seg_%08d.spdx", id)
}

// Write atomically creates the segment file for id. It writes to a .tmp file
// first and renames on success.
func (w *Writer) Write(id uint64, data *Data) (string, error) {
	segmentName := FileName(id)
	finalPath := filepath.Join(w.dataDir, segmentName)
	tmpPath := finalPath + ".tmp"

	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshaling segment %d: %w", id, err)
	}
	body, err := compressBlock(raw, w.codec)
	if err != nil {
		return "", fmt.Errorf("compressing segment %d: %w", id, err)
	}
	header := SegmentHeader{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		DocCount:   uint32(data.NumDocs()),
		TermCount:  uint32(data.TermCount()),
		CreatedAt:  time.Now().Unix(),
		BodyOffset: int64(HeaderSize),
		BodySize:   int64(len(body)),
		Codec:      w.codec,
	}
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(body))
	binary.LittleEndian.PutUint32(footer[4:8], header.DocCount)

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	cleanup := func() {
		f.Close()
		os.Remove(tmpPath)
	}
	for _, part := range [][]byte{header.encode(), body, footer} {
		if _, err := f.Write(part); err != nil {
			cleanup()
			return "", fmt.Errorf("writing segment %d: %w", id, err)
		}
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing segment file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	return segmentName, nil
}
