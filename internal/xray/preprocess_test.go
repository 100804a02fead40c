package xray

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPreprocessShapeAndRange(t *testing.T) {
	tensor, err := Preprocess(writeTestPNG(t))
	require.NoError(t, err)
	require.Equal(t, []int{1, InputSize, InputSize, 3}, tensor.Shape)
	for _, v := range tensor.Data {
		require.GreaterOrEqual(t, v, -1.0)
		require.LessOrEqual(t, v, 1.0)
	}
}

func TestPreprocessDeterministic(t *testing.T) {
	path := writeTestPNG(t)
	a, err := Preprocess(path)
	require.NoError(t, err)
	b, err := Preprocess(path)
	require.NoError(t, err)
	require.Equal(t, a.Data, b.Data)
}

func TestPreprocessDecodeError(t *testing.T) {
	var de *DecodeError

	bad := filepath.Join(t.TempDir(), "notes.png")
	require.NoError(t, os.WriteFile(bad, []byte("plain text"), 0o644))
	_, err := Preprocess(bad)
	require.ErrorAs(t, err, &de)

	_, err = Preprocess(filepath.Join(t.TempDir(), "nope.png"))
	require.ErrorAs(t, err, &de)
}
