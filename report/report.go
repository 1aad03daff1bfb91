// Package report exports contribution receipts recorded in the event log for
// off-line reconciliation against the sale wallet and the token ledger.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"tokensale/native/crowdsale"
	"tokensale/observability/eventlog"
)

const pageSize = 500

// EventSource pages through recorded events.
type EventSource interface {
	List(ctx context.Context, after int64, eventType string, limit int) ([]eventlog.Record, error)
}

// Row is one accepted contribution joined with the issuance of its
// beneficiary's tokens, when settlement has run.
type Row struct {
	Sequence       int64
	ReceiptID      string
	Payer          string
	Beneficiary    string
	Referrer       string
	Phase          string
	Amount         string
	Accepted       string
	Refund         string
	Allocation     string
	ReferrerCredit string
	IssuedTxID     string
	CreatedAt      time.Time
}

// Build walks the whole event log and returns one row per contribution in
// sequence order.
func Build(ctx context.Context, source EventSource) ([]Row, error) {
	var (
		rows   []Row
		issued = make(map[string]string)
		after  int64
	)
	for {
		records, err := source.List(ctx, after, "", pageSize)
		if err != nil {
			return nil, fmt.Errorf("report: list events: %w", err)
		}
		for _, rec := range records {
			after = rec.Sequence
			switch rec.Type {
			case crowdsale.EventTypeContribution:
				rows = append(rows, rowFrom(rec))
			case crowdsale.EventTypeTokensIssued:
				issued[rec.Attributes["recipient"]] = rec.Attributes["txId"]
			}
		}
		if len(records) < pageSize {
			break
		}
	}
	for i := range rows {
		rows[i].IssuedTxID = issued[rows[i].Beneficiary]
	}
	return rows, nil
}

func rowFrom(rec eventlog.Record) Row {
	attrs := rec.Attributes
	return Row{
		Sequence:       rec.Sequence,
		ReceiptID:      attrs["id"],
		Payer:          attrs["payer"],
		Beneficiary:    attrs["beneficiary"],
		Referrer:       attrs["referrer"],
		Phase:          attrs["phase"],
		Amount:         attrs["amount"],
		Accepted:       attrs["accepted"],
		Refund:         attrs["refund"],
		Allocation:     attrs["allocation"],
		ReferrerCredit: attrs["referrerCredit"],
		CreatedAt:      rec.CreatedAt.UTC(),
	}
}

// Export builds the report and writes <name>.csv and <name>.parquet into dir.
func Export(ctx context.Context, source EventSource, dir, name string) (string, string, int, error) {
	rows, err := Build(ctx, source)
	if err != nil {
		return "", "", 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", 0, fmt.Errorf("report: create dir: %w", err)
	}
	csvPath := filepath.Join(dir, name+".csv")
	if err := WriteCSV(csvPath, rows); err != nil {
		return "", "", 0, err
	}
	parquetPath := filepath.Join(dir, name+".parquet")
	if err := WriteParquet(parquetPath, rows); err != nil {
		return "", "", 0, err
	}
	return csvPath, parquetPath, len(rows), nil
}

var csvHeader = []string{
	"sequence", "receipt_id", "payer", "beneficiary", "referrer", "phase",
	"amount", "accepted", "refund", "allocation", "referrer_credit", "issued_tx_id", "created_at",
}

func WriteCSV(path string, rows []Row) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create csv: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			strconv.FormatInt(row.Sequence, 10),
			row.ReceiptID,
			row.Payer,
			row.Beneficiary,
			row.Referrer,
			row.Phase,
			row.Amount,
			row.Accepted,
			row.Refund,
			row.Allocation,
			row.ReferrerCredit,
			row.IssuedTxID,
			row.CreatedAt.Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("report: flush csv: %w", err)
	}
	return file.Close()
}

type parquetRow struct {
	Sequence       int64  `parquet:"name=sequence, type=INT64"`
	ReceiptID      string `parquet:"name=receipt_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Payer          string `parquet:"name=payer, type=BYTE_ARRAY, convertedtype=UTF8"`
	Beneficiary    string `parquet:"name=beneficiary, type=BYTE_ARRAY, convertedtype=UTF8"`
	Referrer       string `parquet:"name=referrer, type=BYTE_ARRAY, convertedtype=UTF8"`
	Phase          string `parquet:"name=phase, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount         string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Accepted       string `parquet:"name=accepted, type=BYTE_ARRAY, convertedtype=UTF8"`
	Refund         string `parquet:"name=refund, type=BYTE_ARRAY, convertedtype=UTF8"`
	Allocation     string `parquet:"name=allocation, type=BYTE_ARRAY, convertedtype=UTF8"`
	ReferrerCredit string `parquet:"name=referrer_credit, type=BYTE_ARRAY, convertedtype=UTF8"`
	IssuedTxID     string `parquet:"name=issued_tx_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt      string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// WriteParquet writes rows as a snappy-compressed Parquet file. Amounts stay
// decimal strings so 256-bit values survive the export.
func WriteParquet(path string, rows []Row) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create parquet: %w", err)
	}
	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(file), new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("report: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		pr := &parquetRow{
			Sequence:       row.Sequence,
			ReceiptID:      row.ReceiptID,
			Payer:          row.Payer,
			Beneficiary:    row.Beneficiary,
			Referrer:       row.Referrer,
			Phase:          row.Phase,
			Amount:         row.Amount,
			Accepted:       row.Accepted,
			Refund:         row.Refund,
			Allocation:     row.Allocation,
			ReferrerCredit: row.ReferrerCredit,
			IssuedTxID:     row.IssuedTxID,
			CreatedAt:      row.CreatedAt.Format(time.RFC3339),
		}
		if err := pw.Write(pr); err != nil {
			_ = pw.WriteStop()
			file.Close()
			return fmt.Errorf("report: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("report: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("report: close parquet file: %w", err)
	}
	return nil
}
