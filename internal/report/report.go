package report

import (
	"bytes"
	"embed"
	"html/template"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/xerrors"

	diffimage "snapdiff/internal/diff/image"
)

//go:embed templates/*.go.html
var templatesFS embed.FS

var templates = template.Must(template.New("").
	Funcs(template.FuncMap{
		"comma": func(v int) string { return humanize.Comma(int64(v)) },
	}).
	ParseFS(templatesFS, "templates/*.go.html"))

type Header struct {
	Reference string
	Candidate string
	// Dir is the directory links are made relative to. Empty keeps paths as given.
	Dir string
}

// Cell is one image column: the full-size file and its thumbnail.
type Cell struct {
	Href      string
	Thumbnail string
}

type Row struct {
	ID        string
	Reference Cell
	Candidate Cell
	Diff      Cell
	Result    *diffimage.DiffResult
}

type Skipped struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type rewriter interface {
	io.Writer
	io.Seeker
	Truncate(size int64) error
}

type flusher interface {
	Flush() error
}

// Builder writes the report one row at a time. On seekable outputs the
// closing markup is rewritten after every row, so the file on disk is always
// a complete document; other outputs are streamed and completed by Close.
// A Builder is not safe for concurrent use.
type Builder struct {
	w       io.Writer
	rw      rewriter
	closer  io.Closer
	dir     string
	skipped []Skipped
	// end is where the next row goes, i.e. the start of the footer.
	end    int64
	rows   int
	closed bool
}

// Create opens path for writing and starts a report in it. Links are made
// relative to path's directory.
func Create(path string, header Header) (*Builder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, xerrors.Errorf("failed to create report directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to create report: %w", err)
	}

	if header.Dir == "" {
		header.Dir = filepath.Dir(path)
	}
	b, err := New(file, header)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	b.closer = file
	return b, nil
}

func New(w io.Writer, header Header) (*Builder, error) {
	b := &Builder{
		w:   w,
		dir: header.Dir,
	}

	if rw, ok := w.(rewriter); ok {
		if offset, err := rw.Seek(0, io.SeekCurrent); err == nil {
			b.rw = rw
			b.end = offset
		}
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "header", header); err != nil {
		return nil, xerrors.Errorf("failed to render report header: %w", err)
	}
	if err := b.emit(buf.Bytes()); err != nil {
		return nil, err
	}

	return b, nil
}

// Rows returns how many rows have been appended.
func (b *Builder) Rows() int {
	return b.rows
}

func (b *Builder) Append(row Row) error {
	if b.closed {
		return xerrors.New("report already closed")
	}

	row.Reference = b.cell(row.Reference)
	row.Candidate = b.cell(row.Candidate)
	row.Diff = b.cell(row.Diff)

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "row", struct {
		ID        string
		Reference templateCell
		Candidate templateCell
		Diff      templateCell
		Result    *diffimage.DiffResult
	}{
		ID:        row.ID,
		Reference: toTemplateCell(row.Reference),
		Candidate: toTemplateCell(row.Candidate),
		Diff:      toTemplateCell(row.Diff),
		Result:    row.Result,
	}); err != nil {
		return xerrors.Errorf("failed to render report row: %w", err)
	}

	if err := b.emit(buf.Bytes()); err != nil {
		return err
	}
	b.rows++
	return nil
}

// Skip records a pair that could not be compared. Skipped pairs are listed
// below the table.
func (b *Builder) Skip(id string, reason string) error {
	if b.closed {
		return xerrors.New("report already closed")
	}

	b.skipped = append(b.skipped, Skipped{ID: id, Reason: reason})
	if b.rw == nil {
		return nil
	}
	return b.writeFooter()
}

// Close completes the document and closes the file opened by Create.
func (b *Builder) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true

	err := b.writeFooter()
	if err == nil {
		err = b.flush()
	}
	if b.closer != nil {
		if closeErr := b.closer.Close(); err == nil && closeErr != nil {
			err = xerrors.Errorf("failed to close report: %w", closeErr)
		}
	}
	return err
}

// emit writes content at the end of the table. On seekable outputs the
// footer is written right after it and anything beyond is cut off.
func (b *Builder) emit(content []byte) error {
	if b.rw == nil {
		if _, err := b.w.Write(content); err != nil {
			return xerrors.Errorf("failed to write report: %w", err)
		}
		return b.flush()
	}

	if _, err := b.rw.Seek(b.end, io.SeekStart); err != nil {
		return xerrors.Errorf("failed to seek report: %w", err)
	}
	n, err := b.rw.Write(content)
	b.end += int64(n)
	if err != nil {
		return xerrors.Errorf("failed to write report: %w", err)
	}
	return b.writeFooter()
}

func (b *Builder) writeFooter() error {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "footer", b.skipped); err != nil {
		return xerrors.Errorf("failed to render report footer: %w", err)
	}

	if b.rw == nil {
		if _, err := b.w.Write(buf.Bytes()); err != nil {
			return xerrors.Errorf("failed to write report: %w", err)
		}
		return nil
	}

	if _, err := b.rw.Seek(b.end, io.SeekStart); err != nil {
		return xerrors.Errorf("failed to seek report: %w", err)
	}
	n, err := b.rw.Write(buf.Bytes())
	if err != nil {
		return xerrors.Errorf("failed to write report: %w", err)
	}
	if err := b.rw.Truncate(b.end + int64(n)); err != nil {
		return xerrors.Errorf("failed to truncate report: %w", err)
	}
	return nil
}

func (b *Builder) flush() error {
	if f, ok := b.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return xerrors.Errorf("failed to flush report: %w", err)
		}
	}
	return nil
}

func (b *Builder) cell(c Cell) Cell {
	if c.Href == "" {
		return Cell{}
	}
	thumbnail := c.Thumbnail
	if thumbnail == "" {
		thumbnail = c.Href
	}
	return Cell{
		Href:      Link(b.dir, c.Href),
		Thumbnail: Link(b.dir, thumbnail),
	}
}

type templateCell struct {
	Href      template.URL
	Thumbnail template.URL
}

// Link values are already escaped by Link, so they are passed to the
// template as trusted URLs.
func toTemplateCell(c Cell) templateCell {
	return templateCell{
		Href:      template.URL(c.Href),
		Thumbnail: template.URL(c.Thumbnail),
	}
}

// Link returns target as a URL reference usable from a document in dir:
// relative when possible, slash separated, and escaped segment by segment.
func Link(dir string, target string) string {
	path := target
	if dir != "" {
		if rel, err := filepath.Rel(dir, target); err == nil {
			path = rel
		}
	}

	segments := strings.Split(filepath.ToSlash(path), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	link := strings.Join(segments, "/")

	// A colon in the first segment would be read as a URL scheme.
	if strings.Contains(segments[0], ":") {
		link = "./" + link
	}
	return link
}
