package export

import (
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/paulmach/orb"

	"github.com/wegman-software/mapit-go/internal/store"
	"github.com/wegman-software/mapit-go/internal/wkb"
)

var areaSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "name", Type: arrow.BinaryTypes.String},
	{Name: "type", Type: arrow.BinaryTypes.String},
	{Name: "country", Type: arrow.BinaryTypes.String},
	{Name: "parent_area_id", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "generation_low", Type: arrow.PrimitiveTypes.Int64},
	{Name: "generation_high", Type: arrow.PrimitiveTypes.Int64},
	{Name: "geom_ewkb", Type: arrow.BinaryTypes.Binary},
}, nil)

// ParquetWriter writes areas with EWKB geometry to a Parquet file
type ParquetWriter struct {
	file      *os.File
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	enc       *wkb.Encoder
	batchSize int
	count     int
	total     int64
}

// NewParquetWriter creates path. Geometry is tagged with srid.
func NewParquetWriter(path string, srid, batchSize int) (*ParquetWriter, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)
	writer, err := pqarrow.NewFileWriter(areaSchema, f, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, err
	}

	return &ParquetWriter{
		file:      f,
		writer:    writer,
		builder:   array.NewRecordBuilder(memory.DefaultAllocator, areaSchema),
		enc:       wkb.NewEncoderWithSRID(4096, srid),
		batchSize: batchSize,
	}, nil
}

// Write appends one area
func (w *ParquetWriter) Write(a *store.Area, shape orb.MultiPolygon) error {
	w.builder.Field(0).(*array.Int64Builder).Append(a.ID)
	w.builder.Field(1).(*array.StringBuilder).Append(a.Name)
	w.builder.Field(2).(*array.StringBuilder).Append(a.Type)
	w.builder.Field(3).(*array.StringBuilder).Append(a.Country)
	if a.ParentID != nil {
		w.builder.Field(4).(*array.Int64Builder).Append(*a.ParentID)
	} else {
		w.builder.Field(4).(*array.Int64Builder).AppendNull()
	}
	w.builder.Field(5).(*array.Int64Builder).Append(a.GenerationLow)
	w.builder.Field(6).(*array.Int64Builder).Append(a.GenerationHigh)
	// the binary builder copies, so the encoder buffer can be reused
	w.builder.Field(7).(*array.BinaryBuilder).Append(w.enc.EncodeMultiPolygon(shape))

	w.count++
	w.total++
	if w.count >= w.batchSize {
		return w.flush()
	}
	return nil
}

// Count returns the number of areas written
func (w *ParquetWriter) Count() int64 {
	return w.total
}

func (w *ParquetWriter) flush() error {
	if w.count == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	err := w.writer.Write(rec)
	w.count = 0
	return err
}

// Close flushes pending rows and closes the file
func (w *ParquetWriter) Close() error {
	defer w.builder.Release()
	if err := w.flush(); err != nil {
		w.writer.Close()
		return err
	}
	// FileWriter.Close closes the underlying file
	return w.writer.Close()
}
