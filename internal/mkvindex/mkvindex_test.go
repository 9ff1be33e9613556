package mkvindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeVint(v uint64, length int) []byte {
	out := make([]byte, length)
	marker := byte(0x80 >> uint(length-1))
	out[0] = marker
	for i := length - 1; i >= 0; i-- {
		out[i] |= byte(v & 0xFF)
		v >>= 8
	}
	return out
}

func TestReadVintSingleByte(t *testing.T) {
	buf := encodeVint(5, 1)
	v, n := readVint(buf)
	require.Equal(t, 1, n)
	require.Equal(t, int64(5), v)
}

func TestReadVintTwoBytes(t *testing.T) {
	buf := encodeVint(300, 2)
	v, n := readVint(buf)
	require.Equal(t, 2, n)
	require.Equal(t, int64(300), v)
}

func TestFindCuesDecodesOneCuePoint(t *testing.T) {
	// CueTime = 1000, CueClusterPosition = 2000, wrapped in a CueTrackPositions,
	// wrapped in a CuePoint, wrapped in Cues.
	cueTime := append([]byte{ebmlIDCueTime}, append(encodeVint(2, 1), 0x03, 0xE8)...)
	clusterPos := append([]byte{ebmlIDCueClusterPos}, append(encodeVint(2, 1), 0x07, 0xD0)...)
	trackPos := append([]byte{ebmlIDCueTrackPos}, append(encodeVint(uint64(len(clusterPos)), 1), clusterPos...)...)
	cuePointBody := append(append([]byte{}, cueTime...), trackPos...)
	cuePoint := append([]byte{ebmlIDCuePoint}, append(encodeVint(uint64(len(cuePointBody)), 1), cuePointBody...)...)

	cuesID := []byte{0x1C, 0x53, 0xBB, 0x6B}
	cues := append(append([]byte{}, cuesID...), append(encodeVint(uint64(len(cuePoint)), 1), cuePoint...)...)

	points := findCues(cues)
	require.Len(t, points, 1)
	require.Equal(t, int64(1000), points[0].TimestampMS)
	require.Equal(t, int64(2000), points[0].ClusterOffset)
}
