package ipc

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSegmentPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(os.TempDir(), fmt.Sprintf("ipc-segment-test-%s.seg", t.Name()))
}

func TestSegmentPushTryPopPreservesOrder(t *testing.T) {
	path := testSegmentPath(t)
	seg, err := createSegment(path, 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = seg.close() })

	for i := 0; i < 5; i++ {
		payload := make([]byte, wireSize)
		payload[0] = byte(i)
		require.NoError(t, seg.push(payload))
	}
	for i := 0; i < 5; i++ {
		got, ok := seg.tryPop()
		require.True(t, ok)
		assert.Equal(t, byte(i), got[0])
	}
	_, ok := seg.tryPop()
	assert.False(t, ok)
}

func TestSegmentPushRejectsWrongSize(t *testing.T) {
	path := testSegmentPath(t)
	seg, err := createSegment(path, 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = seg.close() })

	err = seg.push([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrSerialization)
}

func TestSegmentPushFailsOnceFull(t *testing.T) {
	path := testSegmentPath(t)
	seg, err := createSegment(path, 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = seg.close() })

	payload := make([]byte, wireSize)
	for i := 0; i < 4; i++ {
		require.NoError(t, seg.push(payload))
	}
	err = seg.push(payload)
	assert.ErrorIs(t, err, ErrSendFailed)
}

func TestOpenSegmentSeesPeerWrites(t *testing.T) {
	path := testSegmentPath(t)
	writer, err := createSegment(path, 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.close() })

	reader, err := openSegment(path, 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.close() })

	payload := make([]byte, wireSize)
	payload[0] = 0xAB
	require.NoError(t, writer.push(payload))

	got, ok := reader.tryPop()
	require.True(t, ok)
	assert.Equal(t, byte(0xAB), got[0])
}

func TestCreateSegmentRejectsNonPowerOfTwoSlotCount(t *testing.T) {
	_, err := createSegment(testSegmentPath(t), 3)
	assert.Error(t, err)
}

func TestSegmentCloseRemovesOwnedFile(t *testing.T) {
	path := testSegmentPath(t)
	seg, err := createSegment(path, 8)
	require.NoError(t, err)

	require.NoError(t, seg.close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
