package dump

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/spectra/internal/errors"
	"github.com/andresmejia3/spectra/internal/frame"
	"github.com/andresmejia3/spectra/internal/metrics"
	"github.com/andresmejia3/spectra/internal/types"
)

// Writer produces the two per-analysis SQL scripts under Root/{analysisID}/.
type Writer struct {
	Root      string
	ChunkSize int
	// OnFrame, when set, is called after each frame-data row is written.
	OnFrame func(done, total int)

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewWriter creates a dump writer rooted at root. m may be nil.
func NewWriter(root string, chunkSize int, logger *slog.Logger, m *metrics.Metrics) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Writer{
		Root:      root,
		ChunkSize: chunkSize,
		logger:    logger.With("component", "dump"),
		metrics:   m,
	}
}

// ImportPath is where WriteImport puts the script for analysisID.
func (w *Writer) ImportPath(analysisID string) string {
	return filepath.Join(w.Root, analysisID, analysisID+"_db_import.sql")
}

// FrameDataPath is where WriteFrameData puts the script for analysisID.
func (w *Writer) FrameDataPath(analysisID string) string {
	return filepath.Join(w.Root, analysisID, analysisID+"_frame_data.sql")
}

// WriteImport writes the same changes InsertFrames makes: the analysis row upsert,
// removal of the analysis's earlier frames and one INSERT per record into FrameTable
// with NULL columns omitted.
func (w *Writer) WriteImport(ctx context.Context, analysis types.Analysis, records []frame.Record) (string, error) {
	analysisID := analysis.ID
	path := w.ImportPath(analysisID)
	n, err := writeAtomic(path, func(bw *bufio.Writer) error {
		for _, line := range []string{beginMarker, RunStatement(analysis), ClearStatement(FrameTable, analysisID)} {
			if _, err := fmt.Fprintln(bw, line); err != nil {
				return err
			}
		}
		for i := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := fmt.Fprintln(bw, ImportStatement(&records[i])); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintln(bw, commitMarker)
		return err
	})
	w.metrics.RecordDumpBytes("import", n)
	w.metrics.RecordBatch("import", err)
	if err != nil {
		return "", errors.Wrap(err, "Writer", "WriteImport", "write "+path)
	}
	w.logger.Info("import script written", "path", path, "frames", len(records), "bytes", n)
	return path, nil
}

// ImportStatement renders the FrameTable INSERT for r. Columns whose value is NULL
// are left out so database defaults apply.
func ImportStatement(r *frame.Record) string {
	cols := make([]string, 0, len(frame.Fields)+5)
	vals := make([]string, 0, len(frame.Fields)+5)
	add := func(col string, v any) {
		lit := Literal(v)
		if lit == "NULL" {
			return
		}
		cols = append(cols, col)
		vals = append(vals, lit)
	}

	add("analysis_id", r.AnalysisID)
	add("frame_index", r.FrameIndex)
	if !r.CreatedAt.IsZero() {
		add("created_at", r.CreatedAt)
	}
	add("frame_time", r.Timestamp)
	if r.Confidences != "" {
		add("confidences", r.Confidences)
	}
	for _, f := range frame.Fields {
		add(f.Column, f.Value(r))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);",
		FrameTable, strings.Join(cols, ", "), strings.Join(vals, ", "))
}

// WriteFrameData writes one INSERT per record into FrameDataTable carrying the whole
// raw source file as X'..'. Raw files are streamed in ChunkSize pieces. A record
// without a raw path, or whose file does not exist, gets NULL. The script creates the
// table when missing and replaces the analysis's earlier rows.
func (w *Writer) WriteFrameData(ctx context.Context, analysisID string, records []frame.Record) (string, error) {
	path := w.FrameDataPath(analysisID)
	src := make([]byte, w.ChunkSize)
	dst := make([]byte, 2*w.ChunkSize)
	var rawBytes int64

	head := frameDataHead()
	n, err := writeAtomic(path, func(bw *bufio.Writer) error {
		if _, err := fmt.Fprintln(bw, beginMarker); err != nil {
			return err
		}
		if _, err := bw.WriteString(FrameDataSchema()); err != nil {
			return err
		}
		if _, err := fmt.Fprintln(bw, ClearStatement(FrameDataTable, analysisID)); err != nil {
			return err
		}
		for i := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			r := &records[i]
			if _, err := bw.WriteString(head); err != nil {
				return err
			}
			if _, err := bw.WriteString(frameDataValues(r)); err != nil {
				return err
			}
			copied, err := w.writeBlob(bw, r.RawPath, src, dst)
			if err != nil {
				return fmt.Errorf("frame %d (%s): %w", r.FrameIndex, r.RawPath, err)
			}
			rawBytes += copied
			if _, err := bw.WriteString(");\n"); err != nil {
				return err
			}
			if w.OnFrame != nil {
				w.OnFrame(i+1, len(records))
			}
		}
		_, err := fmt.Fprintln(bw, commitMarker)
		return err
	})
	w.metrics.RecordDumpBytes("frame_data", n)
	w.metrics.RecordBatch("frame_data", err)
	if err != nil {
		return "", errors.Wrap(err, "Writer", "WriteFrameData", "write "+path)
	}
	w.logger.Info("frame data script written", "path", path, "frames", len(records), "raw_bytes", rawBytes, "bytes", n)
	return path, nil
}

func frameDataHead() string {
	cols := append([]string{"analysis_id", "frame_index", "frame_time", "raw_file_name"}, frame.Columns()...)
	cols = append(cols, "raw_data")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (", FrameDataTable, strings.Join(cols, ", "))
}

func frameDataValues(r *frame.Record) string {
	var b strings.Builder
	b.WriteString(Literal(r.AnalysisID))
	b.WriteString(", ")
	b.WriteString(Literal(r.FrameIndex))
	b.WriteString(", ")
	b.WriteString(Literal(r.Timestamp))
	b.WriteString(", ")
	if r.RawPath == "" {
		b.WriteString("NULL")
	} else {
		b.WriteString(Literal(filepath.Base(r.RawPath)))
	}
	for _, f := range frame.Fields {
		b.WriteString(", ")
		b.WriteString(Literal(f.Value(r)))
	}
	b.WriteString(", ")
	return b.String()
}

// writeBlob emits X'..' for the file at path, or NULL when there is none.
func (w *Writer) writeBlob(bw *bufio.Writer, path string, src, dst []byte) (int64, error) {
	if path == "" {
		_, err := bw.WriteString("NULL")
		return 0, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		w.logger.Warn("raw file missing, writing NULL blob", "path", path)
		_, err := bw.WriteString("NULL")
		return 0, err
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if _, err := bw.WriteString("X'"); err != nil {
		return 0, err
	}
	n, err := hexCopy(bw, f, src, dst)
	if err != nil {
		return n, err
	}
	_, err = bw.WriteString("'")
	return n, err
}

// countingWriter tracks bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// writeAtomic runs fill against a temporary file next to path and renames it into
// place only when fill and the flush succeed.
func writeAtomic(path string, fill func(*bufio.Writer) error) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	cw := &countingWriter{w: tmp}
	bw := bufio.NewWriterSize(cw, 64*1024)
	if err := fill(bw); err != nil {
		tmp.Close()
		return cw.n, err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return cw.n, err
	}
	if err := tmp.Close(); err != nil {
		return cw.n, err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return cw.n, err
	}
	return cw.n, os.Rename(tmp.Name(), path)
}
