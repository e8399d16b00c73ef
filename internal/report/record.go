// Package report turns a completed session into a spreadsheet row.
package report

import (
	"strings"
	"time"

	"github.com/ashureev/laporan-bot/internal/domain"
)

// ColumnCount is the fixed width of a report row (columns A through U).
const ColumnCount = 21

// Row is one spreadsheet record.
type Row [ColumnCount]string

// Headers names each column in order.
var Headers = Row{
	"Report Type",
	"ID Ticket",
	"Time",
	"Reported",
	"Month",
	"Segmen",
	"Category",
	"Customer Name",
	"Service No",
	"Segment",
	"Teknisi 1",
	"Teknisi 2",
	"STO",
	"Valins ID",
	"Service Type",
	"Status",
	"Resolve",
	"Solution",
	"Job-ID",
	"Team",
	"Foto Eviden",
}

const (
	colReportType = iota
	colTicket
	colTime
	colReported
	colMonth
	colSegmen
	colCategory
	colCustomerName
	colServiceNo
	colSegment
	colTechnician1
	colTechnician2
	colSTO
	colValinsID
	colServiceType
	colStatus
	colResolve
	colSolution
	colJobID
	colTeam
	colEvidence
)

// Compose builds the row for s. folderLink fills the evidence column and now
// supplies the time and month when the reported timestamp is unusable.
// Compose never fails: absent values become empty cells.
func Compose(s *domain.Session, folderLink string, now time.Time) Row {
	var r Row

	reported := ""
	if !s.ReportedAt.IsZero() {
		reported = s.ReportedAt.In(now.Location()).Format(domain.ReportedLayout)
	}

	r[colReportType] = string(s.ReportType)
	r[colTicket] = s.TicketID
	r[colTime] = timeOf(reported, now)
	r[colReported] = reported
	r[colMonth] = monthOf(reported, now)
	r[colCustomerName] = s.Fields[domain.FieldCustomerName]
	r[colServiceNo] = s.Fields[domain.FieldServiceNo]
	r[colSegment] = s.Fields[domain.FieldSegment]
	r[colTechnician1] = s.Fields[domain.FieldTechnician1]
	r[colTechnician2] = s.Fields[domain.FieldTechnician2]
	r[colSTO] = s.Fields[domain.FieldSTO]
	r[colValinsID] = s.Fields[domain.FieldValinsID]
	r[colEvidence] = folderLink

	return r
}

func timeOf(reported string, now time.Time) string {
	if _, after, ok := strings.Cut(reported, " "); ok && after != "" {
		return after
	}
	return now.Format("15:04")
}

func monthOf(reported string, now time.Time) string {
	if t, err := time.ParseInLocation(domain.ReportedLayout, reported, now.Location()); err == nil {
		return t.Month().String()
	}
	return now.Month().String()
}

// Values converts the row for a spreadsheet append call.
func (r Row) Values() []any {
	out := make([]any, len(r))
	for i, v := range r {
		out[i] = v
	}
	return out
}

// AppendRange returns the A1 range covering every column of sheet.
func AppendRange(sheet string) string {
	return sheet + "!A:U"
}
