package handler

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"invoice-automation-backend/internal/apperr"
	"invoice-automation-backend/internal/models"
	"invoice-automation-backend/internal/services/billing"
	"invoice-automation-backend/internal/services/matching"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxUploadRows = 5000

var uploadColumns = []string{"invoice_number", "customer_name", "customer_email", "amount", "currency", "due_date"}

type skippedRow struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// UploadInvoices creates one draft per CSV row. Columns are found by header
// name; invoice_number and currency may be blank. Customers are matched to
// existing clients and created when nothing matches. Bad rows are reported
// and skipped.
func (h *InvoiceHandler) UploadInvoices(c *gin.Context) {
	ws, ok := workspaceFrom(c, h.workspaces, h.log)
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, 10<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
		return
	}

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	sample := raw[:min(len(raw), 1024)]
	if !bytes.Contains(sample, []byte(",")) && bytes.Contains(sample, []byte("\t")) {
		reader.Comma = '\t'
	}

	headerRow, err := reader.Read()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read CSV header"})
		return
	}
	cols, err := columnIndex(headerRow)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	clients, err := h.clients.ListByWorkspace(ctx, ws.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	inserted := 0
	skipped := []skippedRow{}
	for rowNum := 2; ; rowNum++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			skipped = append(skipped, skippedRow{Row: rowNum, Reason: "malformed row"})
			continue
		}
		if strings.TrimSpace(strings.Join(record, "")) == "" {
			continue
		}
		if rowNum-1 > maxUploadRows {
			skipped = append(skipped, skippedRow{Row: rowNum, Reason: fmt.Sprintf("only %d rows are imported per file", maxUploadRows)})
			break
		}

		field := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		name := field("customer_name")
		if name == "" {
			skipped = append(skipped, skippedRow{Row: rowNum, Reason: "customer name empty"})
			continue
		}
		amount, err := decimal.NewFromString(strings.ReplaceAll(field("amount"), ",", ""))
		if err != nil {
			skipped = append(skipped, skippedRow{Row: rowNum, Reason: "invalid amount " + field("amount")})
			continue
		}
		due, ok := parseDate(field("due_date"))
		if !ok {
			skipped = append(skipped, skippedRow{Row: rowNum, Reason: "invalid due date " + field("due_date")})
			continue
		}

		client, err := h.clientFor(c, ws, &clients, name, field("customer_email"))
		if err != nil {
			respondError(c, h.log, err)
			return
		}

		_, err = h.billing.CreateDraft(ctx, ws, billing.DraftInput{
			ClientID:      client.ID,
			InvoiceNumber: field("invoice_number"),
			Total:         amount,
			Currency:      field("currency"),
			DueDate:       due,
		}, actor(c))
		if err != nil {
			if apperr.KindOf(err) == apperr.KindInfrastructure {
				respondError(c, h.log, err)
				return
			}
			skipped = append(skipped, skippedRow{Row: rowNum, Reason: apperr.UserMessage(err)})
			continue
		}
		inserted++
	}

	h.log.Info("invoice upload processed",
		zap.String("file", header.Filename),
		zap.Int("inserted", inserted),
		zap.Int("skipped", len(skipped)),
	)
	c.JSON(http.StatusOK, gin.H{
		"file":          header.Filename,
		"invoicesAdded": inserted,
		"skipped":       skipped,
	})
}

func columnIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		key = strings.ReplaceAll(key, " ", "_")
		cols[key] = i
	}
	for _, required := range []string{"customer_name", "amount", "due_date"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("CSV header must include %s (known columns: %s)", required, strings.Join(uploadColumns, ", "))
		}
	}
	return cols, nil
}

// clientFor reuses a matching client or creates one, remembering new
// clients for later rows of the same file.
func (h *InvoiceHandler) clientFor(c *gin.Context, ws *models.Workspace, known *[]models.Client, name, email string) (*models.Client, error) {
	if m := matching.MatchClient(name, email, *known); m.Decision == matching.DecisionMatched {
		return m.Client, nil
	}
	client := &models.Client{WorkspaceID: ws.ID, Name: name, Email: email}
	if err := h.clients.Create(c.Request.Context(), client); err != nil {
		return nil, err
	}
	*known = append(*known, *client)
	return client, nil
}
