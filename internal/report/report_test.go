package report_test

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/net/html"

	diffimage "snapdiff/internal/diff/image"
	"snapdiff/internal/report"
)

var voidElements = map[string]bool{
	"br":   true,
	"img":  true,
	"meta": true,
}

// checkWellFormed fails unless every element in doc is closed in order and
// the document ends with </html>.
func checkWellFormed(t *testing.T, doc []byte) {
	t.Helper()

	var stack []string
	z := html.NewTokenizer(bytes.NewReader(doc))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				t.Fatalf("tokenize: %v", z.Err())
			}
			if len(stack) != 0 {
				t.Fatalf("unclosed elements %v in:\n%s", stack, doc)
			}
			if !strings.HasSuffix(strings.TrimSpace(string(doc)), "</html>") {
				t.Fatalf("document does not end with </html>:\n%s", doc)
			}
			return
		case html.StartTagToken:
			name, _ := z.TagName()
			if !voidElements[string(name)] {
				stack = append(stack, string(name))
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if len(stack) == 0 || stack[len(stack)-1] != string(name) {
				t.Fatalf("unexpected </%s> with open %v in:\n%s", name, stack, doc)
			}
			stack = stack[:len(stack)-1]
		}
	}
}

func countRows(doc []byte) int {
	// the header row has no id
	return strings.Count(string(doc), "<tr id=")
}

func TestBuilder_WellFormedAfterEveryRow(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "index.html")

	b, err := report.Create(path, report.Header{Reference: "ref/", Candidate: "src/"})
	if err != nil {
		t.Fatal(err)
	}

	doc, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	checkWellFormed(t, doc)

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("/shot%d.png", i)
		err := b.Append(report.Row{
			ID:        id,
			Reference: report.Cell{Href: filepath.Join(dir, "ref", id), Thumbnail: filepath.Join(dir, "ref", "thumb.png")},
			Candidate: report.Cell{Href: filepath.Join(dir, "src", id)},
			Diff:      report.Cell{Href: filepath.Join(dir, "src", "d.diff.png")},
			Result:    &diffimage.DiffResult{PrecisionBits: 12.5, AbsoluteError: 1234},
		})
		if err != nil {
			t.Fatal(err)
		}

		doc, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		checkWellFormed(t, doc)
		if got := countRows(doc); got != i+1 {
			t.Errorf("want %d rows, got %d", i+1, got)
		}
	}

	if err := b.Skip("/broken.png", "failed to decode image"); err != nil {
		t.Fatal(err)
	}
	doc, err = os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	checkWellFormed(t, doc)
	if !strings.Contains(string(doc), "/broken.png</code>: failed to decode image") {
		t.Errorf("skipped pair missing from:\n%s", doc)
	}

	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	final, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(string(doc), string(final)); diff != "" {
		t.Errorf("close changed a complete document (-before +after):\n%s", diff)
	}
	for _, want := range []string{
		`href="ref/shot0.png"`,
		`src="ref/thumb.png"`,
		`href="src/shot2.png"`,
		`precision 12.5 bits`,
		`ae 1,234`,
		`<th>ref/</th><th>src/</th><th>&Delta;</th>`,
	} {
		if !strings.Contains(string(final), want) {
			t.Errorf("want %q in:\n%s", want, final)
		}
	}
}

func TestBuilder_Empty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "index.html")
	b, err := report.Create(path, report.Header{Reference: "a", Candidate: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	doc, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	checkWellFormed(t, doc)
	if got := countRows(doc); got != 0 {
		t.Errorf("want no rows, got %d", got)
	}
	if strings.Contains(string(doc), "Skipped") {
		t.Errorf("empty report lists skipped pairs:\n%s", doc)
	}
}

func TestBuilder_Streaming(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	w := bufio.NewWriter(&out)
	b, err := report.New(w, report.Header{Reference: "a", Candidate: "b"})
	if err != nil {
		t.Fatal(err)
	}

	if err := b.Append(report.Row{ID: "/x.png", Reference: report.Cell{Href: "/r/x.png"}}); err != nil {
		t.Fatal(err)
	}
	// rows are flushed as they are appended
	if got := countRows(out.Bytes()); got != 1 {
		t.Errorf("want 1 flushed row, got %d", got)
	}
	if err := b.Skip("/y.png", "image dimensions differ"); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	checkWellFormed(t, out.Bytes())
	if !strings.Contains(out.String(), "/y.png") {
		t.Errorf("skipped pair missing from:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "<td>n/a</td>") {
		t.Errorf("row without metrics should say n/a:\n%s", out.String())
	}
	if err := b.Append(report.Row{ID: "/z.png"}); err == nil {
		t.Error("want error appending to a closed report")
	}
}

func TestLink(t *testing.T) {
	t.Parallel()

	type in struct {
		dir    string
		target string
	}
	tests := []struct {
		name string
		in   in
		want string
	}{
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in:   in{dir: "/out", target: "/out/ref/a.png"},
			want: "ref/a.png",
		},
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in:   in{dir: "/out/report", target: "/out/ref/a b#1.png"},
			want: "../ref/a%20b%231.png",
		},
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in:   in{dir: "/out", target: "/out/c:d.png"},
			want: "./c:d.png",
		},
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in:   in{dir: "", target: "/abs/a?.png"},
			want: "/abs/a%3F.png",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if diff := cmp.Diff(tt.want, report.Link(tt.in.dir, tt.in.target)); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}
