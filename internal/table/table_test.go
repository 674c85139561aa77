package table

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/scagg/internal/summary"
)

func sampleMapping() summary.Mapping {
	return summary.Mapping{
		7: {
			summary.AttrSCGID:        7,
			summary.AttrSCRowInd:     0,
			summary.AttrSCColInd:     7,
			summary.AttrLatitude:     40.25,
			summary.AttrGenGIDs:      []int{3, 4},
			summary.AttrResourceGIDs: []int{30},
			"mean_cf":                0.5,
		},
		2: {
			summary.AttrSCGID:        2,
			summary.AttrSCRowInd:     0,
			summary.AttrSCColInd:     2,
			summary.AttrLatitude:     40.5,
			summary.AttrGenGIDs:      []int{1},
			summary.AttrResourceGIDs: []int{10},
			"avg_ws":                 7.1,
		},
	}
}

func TestFromMapping(t *testing.T) {
	tbl := FromMapping(sampleMapping())

	assert.Equal(t, []int{2, 7}, tbl.Index)
	assert.Equal(t, []string{
		summary.AttrResourceGIDs, summary.AttrGenGIDs, summary.AttrLatitude,
		"avg_ws", "mean_cf",
		summary.AttrSCRowInd, summary.AttrSCColInd,
	}, tbl.Columns)
	assert.Equal(t, 2, tbl.Len())

	mean := tbl.Column("mean_cf")
	require.GreaterOrEqual(t, mean, 0)
	assert.Nil(t, tbl.Data[0][mean], "gid 2 has no mean_cf")
	assert.Equal(t, 0.5, tbl.Data[1][mean])
	assert.Equal(t, -1, tbl.Column("missing"))
}

func TestFromMapping_Empty(t *testing.T) {
	tbl := FromMapping(summary.Mapping{})
	assert.Zero(t, tbl.Len())
	assert.Empty(t, tbl.Columns)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, FromMapping(sampleMapping()).WriteCSV(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "sc_gid,resource_gids,gen_gids,latitude,avg_ws,mean_cf,sc_row_ind,sc_col_ind", lines[0])
	assert.Equal(t, `2,[10],[1],40.5,7.1,,0,2`, lines[1])
	assert.Equal(t, `7,[30],"[3,4]",40.25,,0.5,0,7`, lines[2])
}

func TestWriteCSV_UnsupportedValue(t *testing.T) {
	tbl := FromMapping(summary.Mapping{0: {"odd": struct{}{}}})
	require.Error(t, tbl.WriteCSV(&bytes.Buffer{}))
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, FromMapping(sampleMapping()).WriteJSON(&buf))

	var got struct {
		Columns []string `json:"columns"`
		Index   []int    `json:"index"`
		Data    [][]any  `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, []int{2, 7}, got.Index)
	require.Len(t, got.Data, 2)
	assert.Len(t, got.Data[0], len(got.Columns))
}
