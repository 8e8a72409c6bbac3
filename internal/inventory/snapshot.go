package inventory

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var recountHeader = []string{"user_id", "product_id", "product", "counted", "system", "difference", "reason", "timestamp"}

// WriteRecountCSV writes one recount session as CSV.
func WriteRecountCSV(w io.Writer, userID int64, at time.Time, lines []RecountLine) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(recountHeader); err != nil {
		return err
	}
	ts := at.UTC().Format(time.RFC3339)
	user := strconv.FormatInt(userID, 10)
	for _, l := range lines {
		record := []string{
			user,
			strconv.FormatInt(l.ProductID, 10),
			l.ProductName,
			l.Counted.String(),
			l.System.String(),
			l.Difference.String(),
			l.Reason,
			ts,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
