package segment

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
)

var ErrCorrupt = errors.New("corrupt segment file")

// ReadFile loads and verifies a segment file written by Writer.
func ReadFile(path string) (*Data, SegmentHeader, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, SegmentHeader{}, fmt.Errorf("opening segment file: %w", err)
	}
	if len(buf) < HeaderSize+FooterSize {
		return nil, SegmentHeader{}, fmt.Errorf("%w: %s is %d bytes", ErrCorrupt, path, len(buf))
	}
	header := decodeHeader(buf[:HeaderSize])
	if header.Magic != MagicBytes {
		return nil, header, fmt.Errorf("%w: bad magic bytes %x", ErrCorrupt, header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, header, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, header.Version)
	}
	end := header.BodyOffset + header.BodySize
	if header.BodyOffset < int64(HeaderSize) || end+int64(FooterSize) > int64(len(buf)) {
		return nil, header, fmt.Errorf("%w: body out of range", ErrCorrupt)
	}
	body := buf[header.BodyOffset:end]
	footer := buf[end : end+int64(FooterSize)]
	if sum := binary.LittleEndian.Uint32(footer[0:4]); sum != crc32.ChecksumIEEE(body) {
		return nil, header, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	raw, err := decompressBlock(body, header.Codec)
	if err != nil {
		return nil, header, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	data := newData()
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, header, fmt.Errorf("%w: decoding body: %v", ErrCorrupt, err)
	}
	if len(data.IDs) != int(header.DocCount) || len(data.Stored) != len(data.IDs) {
		return nil, header, fmt.Errorf("%w: document count mismatch", ErrCorrupt)
	}
	data.index()
	return data, header, nil
}
