package handler

import (
	"encoding/csv"
	"fmt"
	"time"

	"github.com/almatkai/woolet-sub002/internal/models"
	"github.com/almatkai/woolet-sub002/internal/service"
	"github.com/almatkai/woolet-sub002/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

// ExportHandler writes the trade history as CSV or XLSX.
type ExportHandler struct {
	Svc *service.Service
	now func() time.Time
}

func NewExportHandler(svc *service.Service) *ExportHandler {
	return &ExportHandler{Svc: svc, now: time.Now}
}

var tradeHeaders = []string{"Date", "Symbol", "Type", "Quantity", "Price", "Total", "Currency", "Realized P/L", "Cash after"}

var tradeColWidths = []float64{12, 10, 6, 14, 14, 14, 9, 14, 14}

func tradeRow(t *models.InvestmentTransaction) []string {
	return []string{
		t.Date.Format("2006-01-02"),
		t.Security.Symbol,
		string(t.Type),
		t.Quantity.String(),
		t.Price.String(),
		t.TotalAmount.StringFixed(2),
		t.Currency,
		t.RealizedPL.StringFixed(2),
		t.CashBalanceAfter.StringFixed(2),
	}
}

// trades loads the rows to export or writes an error.
func (h *ExportHandler) trades(c *gin.Context) ([]models.InvestmentTransaction, bool) {
	scope, ok := scopeOf(c)
	if !ok {
		return nil, false
	}
	secID, ok := securityFilter(c)
	if !ok {
		return nil, false
	}
	list, err := h.Svc.ListInvestmentTransactions(c.Request.Context(), scope, secID)
	if err != nil {
		util.Fail(c, err)
		return nil, false
	}
	return list, true
}

func (h *ExportHandler) attachment(c *gin.Context, contentType, ext string) {
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"trades_%s.%s\"",
		h.now().Format("20060102"), ext))
}

func (h *ExportHandler) ExportCSV(c *gin.Context) {
	list, ok := h.trades(c)
	if !ok {
		return
	}
	h.attachment(c, "text/csv; charset=utf-8", "csv")

	// UTF-8 BOM so spreadsheet apps detect the encoding
	c.Writer.Write([]byte{0xEF, 0xBB, 0xBF})

	w := csv.NewWriter(c.Writer)
	defer w.Flush()
	w.Write(tradeHeaders)
	for i := range list {
		w.Write(tradeRow(&list[i]))
	}
}

// buildTradeWorkbook lays the trades out on a single sheet.
func buildTradeWorkbook(list []models.InvestmentTransaction) (*excelize.File, error) {
	f := excelize.NewFile()
	const sheet = "Trades"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	for col, title := range tradeHeaders {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return nil, err
		}
	}
	for i := range list {
		t := &list[i]
		row := i + 2
		values := []any{
			t.Date.Format("2006-01-02"),
			t.Security.Symbol,
			string(t.Type),
			t.Quantity.InexactFloat64(),
			t.Price.InexactFloat64(),
			t.TotalAmount.InexactFloat64(),
			t.Currency,
			t.RealizedPL.InexactFloat64(),
			t.CashBalanceAfter.InexactFloat64(),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, err
			}
		}
	}
	for col, width := range tradeColWidths {
		name, _ := excelize.ColumnNumberToName(col + 1)
		if err := f.SetColWidth(sheet, name, name, width); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (h *ExportHandler) ExportXLSX(c *gin.Context) {
	list, ok := h.trades(c)
	if !ok {
		return
	}
	f, err := buildTradeWorkbook(list)
	if err != nil {
		util.Fail(c, fmt.Errorf("build workbook: %w", err))
		return
	}
	defer f.Close()

	h.attachment(c, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx")
	if err := f.Write(c.Writer); err != nil {
		util.Fail(c, fmt.Errorf("write workbook: %w", err))
	}
}
