// Package dump writes portable SQL text scripts for an analysed batch.
package dump

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/spectra/internal/frame"
	"github.com/andresmejia3/spectra/internal/types"
)

const (
	beginMarker  = "BEGIN TRANSACTION;"
	commitMarker = "COMMIT;"

	// FrameTable receives the per-frame feature rows.
	FrameTable = "frame_feature"
	// FrameDataTable receives feature rows together with the raw source file.
	FrameDataTable = "frame_data"
	// RunTable holds one row per analysis; FrameTable rows reference it.
	RunTable = "analysis_run"
)

// FrameDataSchema is the DDL for FrameDataTable. raw_data is BIT VARYING so the
// X'..' bit-string literals load into PostgreSQL.
func FrameDataSchema() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", FrameDataTable)
	b.WriteString("\tanalysis_id TEXT NOT NULL,\n")
	b.WriteString("\tframe_index INT NOT NULL,\n")
	b.WriteString("\tframe_time TIMESTAMPTZ,\n")
	b.WriteString("\traw_file_name TEXT,\n")
	for _, f := range frame.Fields {
		fmt.Fprintf(&b, "\t%s %s,\n", f.Column, f.SQLType())
	}
	b.WriteString("\traw_data BIT VARYING,\n")
	b.WriteString("\tPRIMARY KEY (analysis_id, frame_index)\n);\n")
	return b.String()
}

// RunStatement upserts the analysis row the way the store does before inserting frames.
func RunStatement(a types.Analysis) string {
	return fmt.Sprintf("INSERT INTO %s (id, result_path, message) VALUES (%s, %s, %s) "+
		"ON CONFLICT (id) DO UPDATE SET result_path = EXCLUDED.result_path, message = EXCLUDED.message, created_at = NOW();",
		RunTable, QuoteString(a.ID), QuoteString(a.ResultPath), QuoteString(a.Message))
}

// ClearStatement deletes the earlier rows of analysisID from table so a replay
// replaces them.
func ClearStatement(table, analysisID string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE analysis_id = %s;", table, QuoteString(analysisID))
}

// QuoteString renders s as a SQL string literal, doubling single quotes.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Literal renders a Go value as a SQL literal. nil and non-finite floats become NULL.
func Literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return QuoteString(x)
	case float32:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "NULL"
		}
		return strconv.FormatFloat(f, 'g', -1, 32)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "NULL"
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case time.Time:
		return QuoteString(x.UTC().Format(time.RFC3339Nano))
	case *time.Time:
		if x == nil {
			return "NULL"
		}
		return Literal(*x)
	default:
		return "NULL"
	}
}
