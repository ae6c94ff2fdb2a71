package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"undercover/internal/apperr"
)

func TestScanRejectsMatch(t *testing.T) {
	f := New([]string{"badword"}, Reject, "")
	_, err := f.Scan("this has a BadWord in it")
	require.Error(t, err)
	code, ok := apperr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, apperr.WordBankError, code)
}

func TestScanAllowsCleanText(t *testing.T) {
	f := New([]string{"badword"}, Reject, "")
	out, err := f.Scan("nothing offensive here")
	require.NoError(t, err)
	assert.Equal(t, "nothing offensive here", out)
}

func TestScanReplaceMode(t *testing.T) {
	f := New([]string{"darn"}, Replace, "***")
	out, err := f.Scan("oh DARN it")
	require.NoError(t, err)
	assert.Equal(t, "oh *** it", out)
}
