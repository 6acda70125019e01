package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCommand(t *testing.T) {
	out, err := execute(t, NewCheckCommand(&RootOptions{Format: "text"}),
		testdata("data"), "SELECT site, hits FROM sensors WHERE celsius < 0 OR hits >= 1000")
	require.NoError(t, err, out)
	assert.Contains(t, out, "site   hits\nnorth  300\neast   1000\nnorth  0\n(3 of 4 rows)")
	assert.Contains(t, out, "✓ matches plaintext reference")
	assert.Contains(t, out, "✓ oblivious")
}

func TestCheckCommand_ScalarJSON(t *testing.T) {
	out, err := execute(t, NewCheckCommand(&RootOptions{Format: "json"}),
		"--scalar", testdata("data"), "SELECT celsius, ok FROM sensors WHERE ok = false")
	require.NoError(t, err, out)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Pass   bool `json:"pass"`
			Answer struct {
				Count int `json:"count"`
				Sums  []struct {
					Index  int    `json:"index"`
					Column string `json:"column"`
					Sum    int    `json:"sum"`
				} `json:"sums"`
			} `json:"answer"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Pass)
	assert.Equal(t, 1, resp.Data.Answer.Count)
	require.Len(t, resp.Data.Answer.Sums, 2)
	assert.Equal(t, "celsius", resp.Data.Answer.Sums[0].Column)
	assert.Equal(t, 3, resp.Data.Answer.Sums[0].Sum)
	assert.Equal(t, 1, resp.Data.Answer.Sums[1].Index)
	assert.Equal(t, 0, resp.Data.Answer.Sums[1].Sum)
}

func TestCheckCommand_QueryError(t *testing.T) {
	out, err := execute(t, NewCheckCommand(&RootOptions{Format: "text"}),
		testdata("data"), "SELECT altitude FROM sensors")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [SCHEMA_MISMATCH]")
}

func TestCheckCommand_MissingData(t *testing.T) {
	out, err := execute(t, NewCheckCommand(&RootOptions{Format: "text"}),
		testdata("nope"), "SELECT site FROM sensors")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}
