package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

func TestStreamCSV_Basic(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("a,b,c\n1,2,3\n4,5,6\n"), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"1", "2", "3"}, {"4", "5", "6"}}, rows)
}

func TestStreamCSV_SniffsSemicolon(t *testing.T) {
	input := "uri;nom;adresse\nev-1;Concert;\"12, rue Alsace-Lorraine\"\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"ev-1", "Concert", "12, rue Alsace-Lorraine"}, rows[1])
}

func TestStreamCSV_StripsBOM(t *testing.T) {
	input := "\xEF\xBB\xBFuri,nom\nev-1,Concert\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, "uri", rows[0][0])
}

func TestStreamCSV_ExplicitDelimiter(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("a;b|c\n1;2|3\n"), CSVOptions{Delimiter: '|'})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, []string{"1;2", "3"}, rows[1])
}

func TestStreamCSV_TrimSpace(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("a , b\n 1 ,2 \n"), CSVOptions{TrimSpace: true})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}}, rows)
}

func TestStreamCSV_VariableFields(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("a,b,c\n1\n"), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, rows[1])
}

func TestStreamCSV_MalformedQuote(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("a,b\n\"1,2\n"), CSVOptions{})
	_, err := collectRows(t, rowCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: read row")
}

func TestStreamCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rowCh, errCh := StreamCSV(ctx, strings.NewReader("a,b\n1,2\n"), CSVOptions{})
	_, err := collectRows(t, rowCh, errCh)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSniffDelimiter(t *testing.T) {
	tests := []struct {
		head string
		want rune
	}{
		{"a,b,c\n1;2;3;4;5", ','},
		{"a;b;c", ';'},
		{"a\tb\tc", '\t'},
		{"a|b|c", '|'},
		{`"x;y;z",b,c`, ','},
		{"single", ','},
		{"", ','},
		{"a;b,c", ','},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sniffDelimiter([]byte(tt.head)), "%q", tt.head)
	}
}
