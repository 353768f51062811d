// Package layoutjson splits the layout JSON dumped by the layout_json tool
// into a header file and size-bounded chunk files that a viewer can fetch
// incrementally.
package layoutjson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"golang.org/x/sync/errgroup"

	"github.com/Emin017/RTL2GDS/internal/pipeline"
)

// Chunk size limits, in bytes of serialised items.
const (
	DefaultMaxBytes = 19 << 20
	LegacyMaxBytes  = 49 << 20
)

// dataKey is the top-level member holding the item array.
const dataKey = "data"

// ArtifactFormatError is returned when a layout JSON file cannot be parsed.
type ArtifactFormatError struct {
	Path string
	Err  error
}

func (e *ArtifactFormatError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("layout json: %v", e.Err)
	}
	return fmt.Sprintf("layout json %s: %v", e.Path, e.Err)
}

func (e *ArtifactFormatError) Unwrap() error { return e.Err }

var trailingComma = regexp.MustCompile(`,\s*([\]}])`)

// RepairTrailingCommas drops commas directly followed by a closing bracket
// or brace. The exporter emits them after the last array element.
func RepairTrailingCommas(data []byte) []byte {
	return trailingComma.ReplaceAll(data, []byte("$1"))
}

// Document is a decoded layout JSON file. Data items are compact raw JSON.
type Document struct {
	Header map[string]json.RawMessage
	Data   []json.RawMessage
}

// Decode repairs and parses a layout JSON document.
func Decode(data []byte) (*Document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(RepairTrailingCommas(data), &top); err != nil {
		return nil, &ArtifactFormatError{Err: err}
	}
	raw, ok := top[dataKey]
	if !ok {
		return nil, &ArtifactFormatError{Err: errors.New(`missing "data" member`)}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return nil, &ArtifactFormatError{Err: errors.New(`"data" is not an array`)}
	}

	doc := &Document{Header: make(map[string]json.RawMessage, len(top)-1), Data: make([]json.RawMessage, len(items))}
	for k, v := range top {
		if k != dataKey {
			doc.Header[k] = v
		}
	}
	for i, item := range items {
		var buf bytes.Buffer
		if err := json.Compact(&buf, item); err != nil {
			return nil, &ArtifactFormatError{Err: fmt.Errorf("data[%d]: %w", i, err)}
		}
		doc.Data[i] = buf.Bytes()
	}
	return doc, nil
}

// Plan groups items into chunks greedily in arrival order. Sizes count the
// serialized chunk file: the {"data":[...]} wrapper, the commas between items
// and the trailing newline. A chunk is closed when the next item would push
// its file past maxBytes; an item too large for any file gets a chunk of its
// own. No chunk is empty.
func Plan(items []json.RawMessage, maxBytes int64) [][]json.RawMessage {
	var chunks [][]json.RawMessage
	var cur []json.RawMessage
	acc := chunkOverhead
	for _, item := range items {
		size := int64(len(item))
		if len(cur) > 0 {
			size++ // separating comma
		}
		if len(cur) > 0 && acc+size > maxBytes {
			chunks = append(chunks, cur)
			cur, acc = nil, chunkOverhead
			size = int64(len(item))
		}
		cur = append(cur, item)
		acc += size
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}

// Options controls Split.
type Options struct {
	MaxBytes int64 // 0 = DefaultMaxBytes
	Workers  int   // concurrent chunk writes; 0 = logical CPU count
}

// Output lists the files Split wrote.
type Output struct {
	Header string
	Chunks []string // in index order
}

// Split reads the layout JSON at path and writes {stem}-header.json and
// {stem}-{i}.json next to it. Each chunk file is {"data":[...]}.
func Split(ctx context.Context, path string, opts Options) (*Output, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout json: %w", err)
	}
	doc, err := Decode(data)
	if err != nil {
		var fe *ArtifactFormatError
		if errors.As(err, &fe) {
			fe.Path = path
		}
		return nil, err
	}

	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers()
	}

	stem := strings.TrimSuffix(path, filepath.Ext(path))
	out := &Output{Header: stem + "-header.json"}
	if err := pipeline.WriteJSON(out.Header, doc.Header); err != nil {
		return nil, fmt.Errorf("write layout header: %w", err)
	}

	chunks := Plan(doc.Data, maxBytes)
	out.Chunks = make([]string, len(chunks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, items := range chunks {
		name := fmt.Sprintf("%s-%d.json", stem, i)
		out.Chunks[i] = name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return pipeline.WriteAtomicFunc(name, func(w io.Writer) error {
				return writeChunk(w, items)
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("write layout chunks: %w", err)
	}
	return out, nil
}

const (
	chunkOpen  = `{"data":[`
	chunkClose = "]}\n"
)

// chunkOverhead is the size of an empty chunk file.
const chunkOverhead = int64(len(chunkOpen) + len(chunkClose))

func writeChunk(w io.Writer, items []json.RawMessage) error {
	if _, err := io.WriteString(w, chunkOpen); err != nil {
		return err
	}
	for i, item := range items {
		if i > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		if _, err := w.Write(item); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, chunkClose)
	return err
}

func defaultWorkers() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return 1
	}
	return n
}
