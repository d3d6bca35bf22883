package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/railzwaylabs/storepay/internal/settlement/domain"
)

var (
	titleStyle  = props.Text{Size: 14, Style: fontstyle.Bold, Align: align.Center}
	headerStyle = props.Text{Size: 9, Style: fontstyle.Bold}
	columnStyle = props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}
	cellStyle   = props.Text{Size: 9}
	amountStyle = props.Text{Size: 9, Align: align.Right}
	totalStyle  = props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}
)

// Statement renders the settlement and its items as a PDF.
func (s *Service) Statement(ctx context.Context, id snowflake.ID) ([]byte, error) {
	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithLeftMargin(12).
		WithTopMargin(15).
		WithRightMargin(12).
		Build()
	m := maroto.New(cfg)

	st := detail.Settlement
	m.AddRows(text.NewRow(12, "Settlement statement", titleStyle))
	m.AddRows(
		summaryRow("Settlement", st.ID.String()),
		summaryRow("Store", st.StoreID.String()),
		summaryRow("Period", fmt.Sprintf("%s to %s", st.PeriodStart.Format(time.DateOnly), st.PeriodEnd.Format(time.DateOnly))),
		summaryRow("Status", string(st.Status)),
		summaryRow("Fee mode", string(st.FeeMode)),
	)
	m.AddRows(line.NewRow(4))

	m.AddRow(7,
		text.NewCol(4, "Order", headerStyle),
		text.NewCol(3, "Gross", columnStyle),
		text.NewCol(2, "Fee", columnStyle),
		text.NewCol(3, "Net", columnStyle),
	)
	rows := make([]core.Row, 0, len(detail.Items))
	for _, item := range detail.Items {
		rows = append(rows, itemRow(item, st.Currency))
	}
	m.AddRows(rows...)
	m.AddRows(line.NewRow(4))

	m.AddRow(7,
		text.NewCol(4, fmt.Sprintf("Total (%d orders)", st.OrderCount), headerStyle),
		text.NewCol(3, money(st.Gross.StringFixed(2), st.Currency), totalStyle),
		text.NewCol(2, money(st.Fee.StringFixed(2), st.Currency), totalStyle),
		text.NewCol(3, money(st.Net.StringFixed(2), st.Currency), totalStyle),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("render settlement statement: %w", err)
	}
	return doc.GetBytes(), nil
}

func summaryRow(label, value string) core.Row {
	return text.NewRow(6, label+": "+value, cellStyle)
}

func itemRow(item domain.Item, currency string) core.Row {
	return row.New(6).Add(
		text.NewCol(4, item.OrderID.String(), cellStyle),
		text.NewCol(3, money(item.Gross.StringFixed(2), currency), amountStyle),
		text.NewCol(2, money(item.Fee.StringFixed(2), currency), amountStyle),
		text.NewCol(3, money(item.Net.StringFixed(2), currency), amountStyle),
	)
}

func money(amount, currency string) string {
	return amount + " " + currency
}
