package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/emr/emr/internal/platform/apperr"
)

const dateLayout = "2006-01-02"

// RevenueRequest selects the window of a revenue report. StartDate and
// EndDate (YYYY-MM-DD, inclusive) take precedence over TimeFrame.
type RevenueRequest struct {
	TimeFrame   string
	StartDate   string
	EndDate     string
	ClinicianID uuid.UUID
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// revenueWindow resolves a request into a half-open [from, to) interval on
// invoice_date. Nil bounds are open.
func revenueWindow(now time.Time, req RevenueRequest) (frame string, from, to *time.Time, err error) {
	now = now.UTC()
	if req.StartDate != "" || req.EndDate != "" {
		if req.StartDate == "" || req.EndDate == "" {
			return "", nil, nil, apperr.Validation("start_date and end_date must be given together")
		}
		start, err := time.Parse(dateLayout, req.StartDate)
		if err != nil {
			return "", nil, nil, apperr.Validation("invalid start_date %q, use YYYY-MM-DD", req.StartDate)
		}
		end, err := time.Parse(dateLayout, req.EndDate)
		if err != nil {
			return "", nil, nil, apperr.Validation("invalid end_date %q, use YYYY-MM-DD", req.EndDate)
		}
		if end.Before(start) {
			return "", nil, nil, apperr.Validation("end_date is before start_date")
		}
		end = end.AddDate(0, 0, 1)
		return "custom", &start, &end, nil
	}

	frame = req.TimeFrame
	if frame == "" {
		frame = "total"
	}
	today := startOfDay(now)
	var start time.Time
	switch frame {
	case "total":
		return frame, nil, nil, nil
	case "day":
		start = today
	case "week":
		// Weeks start on Monday.
		offset := (int(today.Weekday()) + 6) % 7
		start = today.AddDate(0, 0, -offset)
	case "month":
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	case "year":
		start = time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return "", nil, nil, apperr.Validation("invalid time_frame %q, use day, week, month, year or total", frame)
	}
	end := today.AddDate(0, 0, 1)
	return frame, &start, &end, nil
}

// RevenueByClinician sums the totals of paid billings per clinician.
func (s *Service) RevenueByClinician(ctx context.Context, req RevenueRequest) (*RevenueReport, error) {
	frame, from, to, err := revenueWindow(s.now(), req)
	if err != nil {
		return nil, err
	}
	rows, err := s.billings.RevenueByClinician(ctx, RevenueQuery{From: from, To: to, ClinicianID: req.ClinicianID})
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []RevenueRow{}
	}
	return &RevenueReport{TimeFrame: frame, From: from, To: to, Rows: rows, Currency: s.currency}, nil
}
