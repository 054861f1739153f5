package report

import (
	"fmt"
	"io"
	"time"

	"github.com/johnfercher/maroto/pkg/color"
	"github.com/johnfercher/maroto/pkg/consts"
	"github.com/johnfercher/maroto/pkg/pdf"
	"github.com/johnfercher/maroto/pkg/props"
)

var (
	pdfGrid       = []uint{2, 4, 3, 3}
	pdfRowShading = &color.Color{Red: 240, Green: 240, Blue: 240}
)

// WritePDF renders the timesheet as an A4 document grouped by day.
func WritePDF(w io.Writer, ts *Timesheet, loc *time.Location) error {
	m := pdf.NewMaroto(consts.Portrait, consts.A4)
	m.SetPageMargins(20, 10, 20)

	period := fmt.Sprintf("%s - %s", ts.From.In(loc).Format(dateLayout), ts.To.In(loc).AddDate(0, 0, -1).Format(dateLayout))
	m.RegisterHeader(func() {
		m.Row(10, func() {
			m.Col(12, func() {
				m.Text("Timesheet", props.Text{Top: 3, Style: consts.Bold, Align: consts.Center, Size: 16})
			})
		})
		m.Row(10, func() {
			m.Col(12, func() {
				m.Text(period, props.Text{Top: 3, Style: consts.Normal, Align: consts.Center, Size: 12})
			})
		})
	})

	headers := []string{"Time", "Task", "Category", "Duration"}
	for _, day := range ts.Days {
		var rows [][]string
		for _, s := range ts.Entries {
			if s.StartTime.In(loc).Format(dateLayout) != day.Date {
				continue
			}
			rows = append(rows, []string{
				s.StartTime.In(loc).Format("15:04"),
				s.TaskTitle,
				s.Category,
				FormatDuration(s.TotalDurationSeconds),
			})
		}

		title := day.Date
		m.Row(10, func() {
			m.Col(12, func() {
				m.Text(title, props.Text{Top: 5, Style: consts.Bold, Size: 12, Align: consts.Left})
			})
		})
		m.TableList(headers, rows, props.TableList{
			HeaderProp:           props.TableListContent{Size: 10, GridSizes: pdfGrid},
			ContentProp:          props.TableListContent{Size: 10, GridSizes: pdfGrid},
			Align:                consts.Center,
			AlternatedBackground: pdfRowShading,
			HeaderContentSpace:   1,
			Line:                 false,
		})

		subtotal := FormatDuration(day.TotalSeconds)
		m.Row(10, func() {
			m.Col(12, func() {
				m.Text("Subtotal: "+subtotal, props.Text{Style: consts.Bold, Align: consts.Right, Size: 10})
			})
		})
	}

	if len(ts.ByCategory) > 0 {
		var rows [][]string
		for _, c := range ts.ByCategory {
			rows = append(rows, []string{c.Category, fmt.Sprintf("%d", c.SessionCount), FormatDuration(c.TotalSeconds)})
		}
		m.Row(10, func() {
			m.Col(12, func() {
				m.Text("By category", props.Text{Top: 5, Style: consts.Bold, Size: 12})
			})
		})
		grid := []uint{6, 3, 3}
		m.TableList([]string{"Category", "Sessions", "Duration"}, rows, props.TableList{
			HeaderProp:           props.TableListContent{Size: 10, GridSizes: grid},
			ContentProp:          props.TableListContent{Size: 10, GridSizes: grid},
			Align:                consts.Center,
			AlternatedBackground: pdfRowShading,
			HeaderContentSpace:   1,
		})
	}

	total := fmt.Sprintf("Total: %s (%d sessions)", FormatDuration(ts.TotalSeconds), ts.SessionCount)
	m.Row(20, func() {
		m.Col(12, func() {
			m.Text(total, props.Text{Top: 10, Style: consts.Bold, Align: consts.Right, Size: 12})
		})
	})

	buf, err := m.Output()
	if err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	if _, err := buf.WriteTo(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}
