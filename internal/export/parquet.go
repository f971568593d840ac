// Package export writes stored page-visit history as parquet for offline
// analysis.
package export

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/brightensolutions/brightensolutions-sub000/internal/models"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"gorm.io/gorm"
)

const batchSize = 1000

func pageVisitSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "visitor_id", Type: arrow.BinaryTypes.String},
		{Name: "path", Type: arrow.BinaryTypes.String},
		{Name: "title", Type: arrow.BinaryTypes.String},
		{Name: "visited_at", Type: arrow.FixedWidthTypes.Timestamp_ms},
		{Name: "time_spent", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
	}, nil)
}

// PageVisitWriter streams page visits into one parquet file, one row group
// per Write call.
type PageVisitWriter struct {
	schema *arrow.Schema
	writer *pqarrow.FileWriter
	mem    memory.Allocator
	rows   int
}

func NewPageVisitWriter(w io.Writer) (*PageVisitWriter, error) {
	schema := pageVisitSchema()
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	writer, err := pqarrow.NewFileWriter(schema, w, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	return &PageVisitWriter{schema: schema, writer: writer, mem: memory.NewGoAllocator()}, nil
}

func (pw *PageVisitWriter) Write(visits []models.PageVisit) error {
	if len(visits) == 0 {
		return nil
	}
	builder := array.NewRecordBuilder(pw.mem, pw.schema)
	defer builder.Release()

	for _, v := range visits {
		builder.Field(0).(*array.StringBuilder).Append(v.VisitorID)
		builder.Field(1).(*array.StringBuilder).Append(v.Path)
		builder.Field(2).(*array.StringBuilder).Append(v.Title)
		builder.Field(3).(*array.TimestampBuilder).Append(arrow.Timestamp(v.VisitedAt.UnixMilli()))
		if v.TimeSpent != nil {
			if *v.TimeSpent < 0 || *v.TimeSpent > math.MaxInt32 {
				return fmt.Errorf("page visit %s: time_spent %d does not fit int32", v.ID, *v.TimeSpent)
			}
			builder.Field(4).(*array.Int32Builder).Append(int32(*v.TimeSpent))
		} else {
			builder.Field(4).(*array.Int32Builder).AppendNull()
		}
	}

	record := builder.NewRecord()
	defer record.Release()

	if err := pw.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	pw.rows += len(visits)
	return nil
}

// Rows is the number of rows written so far.
func (pw *PageVisitWriter) Rows() int { return pw.rows }

func (pw *PageVisitWriter) Close() error {
	return pw.writer.Close()
}

// WritePageVisits exports every stored page visit in row id order, which
// is visit time order.
func WritePageVisits(ctx context.Context, db *gorm.DB, w io.Writer) (int, error) {
	pw, err := NewPageVisitWriter(w)
	if err != nil {
		return 0, err
	}

	var batch []models.PageVisit
	result := db.WithContext(ctx).FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
		return pw.Write(batch)
	})
	if result.Error != nil {
		pw.Close()
		return 0, fmt.Errorf("failed to export page visits: %w", result.Error)
	}

	if err := pw.Close(); err != nil {
		return 0, fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return pw.Rows(), nil
}

// ReadPageVisits decodes a file produced by WritePageVisits.
func ReadPageVisits(ctx context.Context, r parquet.ReaderAtSeeker) ([]models.PageVisit, error) {
	fileReader, err := file.NewParquetReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer fileReader.Close()

	reader, err := pqarrow.NewFileReader(fileReader, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}

	table, err := reader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read table: %w", err)
	}
	defer table.Release()

	visits := make([]models.PageVisit, 0, table.NumRows())
	tr := array.NewTableReader(table, batchSize)
	defer tr.Release()

	for tr.Next() {
		rec := tr.Record()
		visitorCol := rec.Column(0).(*array.String)
		pathCol := rec.Column(1).(*array.String)
		titleCol := rec.Column(2).(*array.String)
		visitedCol := rec.Column(3).(*array.Timestamp)
		spentCol := rec.Column(4).(*array.Int32)

		for i := 0; i < int(rec.NumRows()); i++ {
			v := models.PageVisit{
				VisitorID: visitorCol.Value(i),
				Path:      pathCol.Value(i),
				Title:     titleCol.Value(i),
				VisitedAt: time.UnixMilli(int64(visitedCol.Value(i))).UTC(),
			}
			if spentCol.IsValid(i) {
				spent := int(spentCol.Value(i))
				v.TimeSpent = &spent
			}
			visits = append(visits, v)
		}
	}

	return visits, nil
}
