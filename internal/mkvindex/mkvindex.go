// Package mkvindex extracts a seek-to-keyframe cue index from an MKV
// container without a general-purpose demuxer: it reads the head (and, when
// the head holds no Cues, the tail) of a media through a Virtual Reader in
// batch mode and decodes the EBML Cues element directly.
//
// This is an optional leaf utility (§4.6); implementers may omit it if the
// transcoding pipeline performs its own index discovery.
package mkvindex

import (
	"context"
	"errors"
	"io"

	"github.com/relaystream/core/internal/vreader"
)

// ErrNoCues is returned when no Cues element is found in the scanned
// regions.
var ErrNoCues = errors.New("mkvindex: no cues element found")

// CuePoint is one (timestamp, cluster_offset) pair from the Cues element.
type CuePoint struct {
	TimestampMS   int64
	ClusterOffset int64
}

const (
	headScanSize = 1 << 20       // 1 MiB
	tailScanSize = 2 * (1 << 20) // 2 MiB

	ebmlIDCues          = 0x1C53BB6B
	ebmlIDCuePoint      = 0xBB
	ebmlIDCueTime       = 0xB3
	ebmlIDCueTrackPos   = 0xB7
	ebmlIDCueClusterPos = 0xF1
)

// Extract reads the head of reader through batch-mode ReadRange calls and
// decodes the Cues element; only when the head holds no Cues element does
// it read and scan the tail.
func Extract(ctx context.Context, reader *vreader.Reader) ([]CuePoint, error) {
	var points []CuePoint

	err := reader.Batch(ctx, func() error {
		head, err := readAll(ctx, reader, 0, minInt64(headScanSize, reader.TotalSize))
		if err != nil {
			return err
		}
		if cues := findCues(head); cues != nil {
			points = cues
			return nil
		}

		tailStart := reader.TotalSize - tailScanSize
		if tailStart < 0 {
			tailStart = 0
		}
		tail, err := readAll(ctx, reader, tailStart, reader.TotalSize)
		if err != nil {
			return err
		}
		points = findCues(tail)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if points == nil {
		return nil, ErrNoCues
	}
	return points, nil
}

func readAll(ctx context.Context, reader *vreader.Reader, start, end int64) ([]byte, error) {
	rs, err := reader.ReadRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	var buf []byte
	for {
		blob, err := rs.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		buf = append(buf, blob...)
	}
	return buf, nil
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// findCues scans buf for an EBML element with ID ebmlIDCues and decodes its
// CuePoint children. Returns nil if not found. This is a best-effort linear
// scan, not a full EBML parser: it looks for the 4-byte Cues ID and decodes
// from there using EBML variable-length integers.
func findCues(buf []byte) []CuePoint {
	idBytes := []byte{0x1C, 0x53, 0xBB, 0x6B}
	idx := indexOf(buf, idBytes)
	if idx < 0 {
		return nil
	}
	pos := idx + 4
	size, n := readVint(buf[pos:])
	if n == 0 {
		return nil
	}
	pos += n
	end := pos + int(size)
	if end > len(buf) {
		end = len(buf)
	}
	return decodeCuePoints(buf[pos:end])
}

func decodeCuePoints(buf []byte) []CuePoint {
	var points []CuePoint
	for len(buf) > 0 {
		id, idN := readElementID(buf)
		if idN == 0 {
			break
		}
		buf = buf[idN:]
		size, sizeN := readVint(buf)
		if sizeN == 0 {
			break
		}
		buf = buf[sizeN:]
		if int(size) > len(buf) {
			break
		}
		body := buf[:size]
		buf = buf[size:]

		if id == ebmlIDCuePoint {
			if cp, ok := decodeCuePoint(body); ok {
				points = append(points, cp)
			}
		}
	}
	return points
}

func decodeCuePoint(buf []byte) (CuePoint, bool) {
	var cp CuePoint
	found := false
	for len(buf) > 0 {
		id, idN := readElementID(buf)
		if idN == 0 {
			break
		}
		buf = buf[idN:]
		size, sizeN := readVint(buf)
		if sizeN == 0 {
			break
		}
		buf = buf[sizeN:]
		if int(size) > len(buf) {
			break
		}
		body := buf[:size]
		buf = buf[size:]

		switch id {
		case ebmlIDCueTime:
			cp.TimestampMS = decodeUint(body)
			found = true
		case ebmlIDCueTrackPos:
			if pos := findClusterPos(body); pos >= 0 {
				cp.ClusterOffset = pos
			}
		}
	}
	return cp, found
}

func findClusterPos(buf []byte) int64 {
	for len(buf) > 0 {
		id, idN := readElementID(buf)
		if idN == 0 {
			return -1
		}
		buf = buf[idN:]
		size, sizeN := readVint(buf)
		if sizeN == 0 {
			return -1
		}
		buf = buf[sizeN:]
		if int(size) > len(buf) {
			return -1
		}
		body := buf[:size]
		buf = buf[size:]
		if id == ebmlIDCueClusterPos {
			return int64(decodeUint(body))
		}
	}
	return -1
}

func decodeUint(buf []byte) int64 {
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return int64(v)
}

// readElementID reads an EBML element ID (1-4 bytes, determined by the
// leading bit pattern of the first byte, same encoding as vints).
func readElementID(buf []byte) (uint32, int) {
	if len(buf) == 0 {
		return 0, 0
	}
	n := vintLength(buf[0])
	if n == 0 || n > len(buf) {
		return 0, 0
	}
	var id uint32
	for i := 0; i < n; i++ {
		id = id<<8 | uint32(buf[i])
	}
	return id, n
}

// readVint reads an EBML variable-length size integer, masking off the
// length-marker bit.
func readVint(buf []byte) (int64, int) {
	if len(buf) == 0 {
		return 0, 0
	}
	n := vintLength(buf[0])
	if n == 0 || n > len(buf) {
		return 0, 0
	}
	mask := byte(0xFF >> uint(n))
	v := uint64(buf[0] & mask)
	for i := 1; i < n; i++ {
		v = v<<8 | uint64(buf[i])
	}
	return int64(v), n
}

func vintLength(first byte) int {
	for i := 0; i < 8; i++ {
		if first&(0x80>>uint(i)) != 0 {
			return i + 1
		}
	}
	return 0
}

func indexOf(haystack, needle []byte) int {
	if len(needle) == 0 || len(haystack) < len(needle) {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
