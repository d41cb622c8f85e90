package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxintel/collector/internal/source"
	writerfile "github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// encodeParquet renders a tabular batch into a single SNAPPY-compressed
// Parquet file using the batch schema.
func encodeParquet(b *source.Batch) ([]byte, int64, error) {
	buf := &bytes.Buffer{}
	pfw := writerfile.NewWriterFile(buf)
	pw, err := writer.NewJSONWriter(parquetSchemaJSON(b.Schema), pfw, 4)
	if err != nil {
		return nil, 0, fmt.Errorf("parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	var rows int64
	for _, row := range b.Rows {
		projected := make(map[string]any, len(b.Schema.Fields))
		for _, f := range b.Schema.Fields {
			projected[f.Name] = row[f.Name]
		}
		line, err := json.Marshal(projected)
		if err != nil {
			_ = pw.WriteStop()
			_ = pfw.Close()
			return nil, rows, fmt.Errorf("parquet row: %w", err)
		}
		if err := pw.Write(string(line)); err != nil {
			_ = pw.WriteStop()
			_ = pfw.Close()
			return nil, rows, fmt.Errorf("parquet row: %w", err)
		}
		rows++
	}
	if err := pw.WriteStop(); err != nil {
		_ = pfw.Close()
		return nil, rows, fmt.Errorf("parquet finalize: %w", err)
	}
	if err := pfw.Close(); err != nil {
		return nil, rows, fmt.Errorf("parquet finalize: %w", err)
	}
	return buf.Bytes(), rows, nil
}

func parquetSchemaJSON(schema *source.Schema) string {
	fields := make([]map[string]string, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		fields = append(fields, map[string]string{
			"Tag": fmt.Sprintf("name=%s, type=%s, repetitiontype=OPTIONAL", f.Name, parquetPhysicalType(f.DataType)),
		})
	}
	out := map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func parquetPhysicalType(dataType string) string {
	switch strings.ToUpper(dataType) {
	case "BOOLEAN":
		return "BOOLEAN"
	case "INTEGER", "INT", "BIGINT":
		return "INT64"
	case "FLOAT", "DOUBLE", "NUMBER", "NUMERIC", "DECIMAL":
		return "DOUBLE"
	default:
		return "BYTE_ARRAY"
	}
}
