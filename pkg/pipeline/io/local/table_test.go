package local

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestReadCSV_ShortRowsAndQuotes(t *testing.T) {
	in := "\ufeffnoid, cdn_url ,full_address,comment\n" +
		"1,https://cdn.test/1.jpg,\"100 Main St, Unit 2\",\"said \"\"hi\"\"\"\n" +
		"2,https://cdn.test/2.jpg\n" +
		"\n" +
		"3,,200 Oak St,extra,fields,here\n"

	tbl, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, []string{"noid", "cdn_url", "full_address", "comment"}, tbl.Header)
	require.Len(t, tbl.Rows, 3)
	require.Zero(t, tbl.Malformed)

	addr := tbl.Index("FULL_ADDRESS")
	require.Equal(t, 2, addr)
	require.Equal(t, "100 Main St, Unit 2", tbl.Rows[0].Get(addr))
	require.Equal(t, `said "hi"`, tbl.Rows[0].Get(tbl.Index("comment")))

	require.Equal(t, "", tbl.Rows[1].Get(addr), "missing trailing fields read as empty")
	require.Equal(t, "", tbl.Rows[2].Get(tbl.Index("cdn_url")))
	require.Equal(t, 5, tbl.Rows[2].Line)
	require.Equal(t, -1, tbl.Index("latitude"))
}

func TestReadCSV_MalformedRowsAreSkipped(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantIDs   []string
		malformed int
	}{
		{
			name: "stray quote",
			in: "noid,cdn_url,comment\n" +
				"1,https://cdn.test/1.jpg,\"TAG\" on door\n" +
				"2,https://cdn.test/2.jpg,ok\n" +
				"3,https://cdn.test/3.jpg,ok\n",
			wantIDs:   []string{"2", "3"},
			malformed: 1,
		},
		{
			name: "unclosed quote",
			in: "noid,cdn_url,comment\n" +
				"1,https://cdn.test/1.jpg,ok\n" +
				"2,https://cdn.test/2.jpg,\"never closed\n" +
				"3,https://cdn.test/3.jpg,ok\n" +
				"4,https://cdn.test/4.jpg,ok",
			wantIDs:   []string{"1", "3", "4"},
			malformed: 1,
		},
		{
			name: "multi-line field survives",
			in: "noid,cdn_url,comment\n" +
				"1,https://cdn.test/1.jpg,\"two\nlines\"\n" +
				"2,https://cdn.test/2.jpg,\"bad\"x\n" +
				"3,https://cdn.test/3.jpg,ok\n",
			wantIDs:   []string{"1", "3"},
			malformed: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl, err := ReadCSV(strings.NewReader(tt.in))
			require.NoError(t, err)
			require.Equal(t, tt.malformed, tbl.Malformed)
			var ids []string
			for _, r := range tbl.Rows {
				ids = append(ids, r.Get(0))
			}
			require.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestReadCSV_MultiLineFieldKeepsLineNumbers(t *testing.T) {
	in := "noid,cdn_url,comment\n" +
		"1,https://cdn.test/1.jpg,\"two\nlines\"\n" +
		"2,https://cdn.test/2.jpg,\"unclosed\n" +
		"3,https://cdn.test/3.jpg,ok\n"

	tbl, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 2)
	require.Equal(t, "two\nlines", tbl.Rows[0].Get(2))
	require.Equal(t, 2, tbl.Rows[0].Line)
	require.Equal(t, 5, tbl.Rows[1].Line)
	require.Equal(t, 1, tbl.Malformed)
}

func TestReadCSV_EmptyInput(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	require.Error(t, err)
}

func TestReadFile_XLSX(t *testing.T) {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"noid", "cdn_url", "full_address"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"10", "https://cdn.test/10.jpg", "1 Market St"}))
	require.NoError(t, f.SetSheetRow(sheet, "A4", &[]any{"11", "https://cdn.test/11.jpg"}))

	path := filepath.Join(t.TempDir(), "photos.xlsx")
	require.NoError(t, f.SaveAs(path))

	tbl, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"noid", "cdn_url", "full_address"}, tbl.Header)
	require.Len(t, tbl.Rows, 2, "blank rows are skipped")
	require.Equal(t, "1 Market St", tbl.Rows[0].Get(2))
	require.Equal(t, "", tbl.Rows[1].Get(2))
	require.Equal(t, 4, tbl.Rows[1].Line)
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.csv"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
