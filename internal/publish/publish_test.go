package publish_test

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/xerrors"

	"snapdiff/internal/publish"
)

type memoryStorage struct {
	mu      sync.Mutex
	objects map[string]string
	types   map[string]string
	fail    string
}

func (m *memoryStorage) Put(ctx context.Context, key string, body io.ReadSeeker, contentType string) (string, error) {
	if key == m.fail {
		return "", xerrors.New("injected failure")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = string(data)
	m.types[key] = contentType
	return "mem://" + key, nil
}

func TestCommonRoot(t *testing.T) {
	t.Parallel()

	type want struct {
		root string
		keys []string
	}
	tests := []struct {
		name string
		in   []string
		want want
	}{
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in: []string{"/out/index.html", "/out/ref/a.png", "/out/src/a.png", "/out/ref/a.png"},
			want: want{
				root: "/out",
				keys: []string{"index.html", "ref/a.png", "src/a.png"},
			},
		},
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in: []string{"/work/report/index.html", "/data/ref/a.png"},
			want: want{
				root: "/",
				keys: []string{"data/ref/a.png", "work/report/index.html"},
			},
		},
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in:   nil,
			want: want{},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			root, keys := publish.CommonRoot(tt.in)
			if diff := cmp.Diff(tt.want, want{root: root, keys: keys}, cmp.AllowUnexported(want{})); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestPublisher_Publish(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	files := map[string]string{
		"index.html":     "<html></html>",
		"ref/a.png":      "ref",
		"src/a.png":      "src",
		"src/a.diff.png": "diff",
	}
	var paths []string
	for key, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, path)
	}

	s := &memoryStorage{objects: map[string]string{}, types: map[string]string{}}
	p := &publish.Publisher{Storage: s, Log: logr.Discard()}

	result, err := p.Publish(context.Background(), paths)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(files, s.objects); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if result.Root != dir {
		t.Errorf("want root %s, got %s", dir, result.Root)
	}
	if result.Bytes != int64(len("<html></html>")+len("ref")+len("src")+len("diff")) {
		t.Errorf("unexpected byte count %d", result.Bytes)
	}
	if got := s.types["ref/a.png"]; got != "image/png" {
		t.Errorf("unexpected content type %q", got)
	}
	if got := result.Locations["index.html"]; got != "mem://index.html" {
		t.Errorf("unexpected location %q", got)
	}

	s.fail = "src/a.png"
	if _, err := p.Publish(context.Background(), paths); err == nil {
		t.Error("want error when an upload fails")
	}
}
