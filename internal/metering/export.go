package metering

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// CSVTimestampFormat renders export timestamps in UTC with millisecond
// precision.
const CSVTimestampFormat = "2006-01-02T15:04:05.000Z"

// CSVHeader is the first line of every export.
const CSVHeader = "Timestamp,Model,Prompt Tokens,Completion Tokens,Total Tokens,Cost,Response Time,Status"

// WriteCSV writes records in the given order after a header line. Text
// columns (timestamp, model, status) are always quoted; numeric columns
// are not.
func WriteCSV(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(CSVHeader); err != nil {
		return err
	}
	for i := range records {
		r := &records[i]
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
		fields := []string{
			quote(r.CreatedAt.UTC().Format(CSVTimestampFormat)),
			quote(r.Model),
			strconv.Itoa(r.PromptTokens),
			strconv.Itoa(r.CompletionTokens),
			strconv.Itoa(r.TotalTokens),
			r.EstimatedCost.String(),
			strconv.FormatInt(r.ResponseTime, 10),
			quote(string(r.Status)),
		}
		if _, err := bw.WriteString(strings.Join(fields, ",")); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ExportCSV returns the CSV document for records.
func ExportCSV(records []Record) string {
	var sb strings.Builder
	_ = WriteCSV(&sb, records)
	return sb.String()
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
