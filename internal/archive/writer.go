package archive

import (
	"archive/zip"
	"fmt"
	"time"
)

// Writer builds an in-memory ZIP container with normalized timestamps
// so identical inputs produce identical archives.
type Writer struct {
	buf    writerBuffer
	zw     *zip.Writer
	now    time.Time
	closed bool
}

// writerBuffer is a minimal grow-only byte buffer. bytes.Buffer would
// do; this keeps Bytes() valid after Close without aliasing surprises.
type writerBuffer struct {
	data []byte
}

func (b *writerBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// NewWriter creates a container writer.
func NewWriter() *Writer {
	w := &Writer{now: time.Now().UTC()}
	w.zw = zip.NewWriter(&w.buf)
	return w
}

// AddFile adds a deflate-compressed entry.
func (w *Writer) AddFile(name string, data []byte) error {
	return w.add(name, data, zip.Deflate)
}

// AddFileStore adds an entry without compression. Media assets are
// usually already compressed; deflating them again wastes time for
// nothing.
func (w *Writer) AddFileStore(name string, data []byte) error {
	return w.add(name, data, zip.Store)
}

func (w *Writer) add(name string, data []byte, method uint16) error {
	if w.closed {
		return fmt.Errorf("archive writer already closed")
	}
	hdr := &zip.FileHeader{
		Name:     name,
		Method:   method,
		Modified: w.now,
	}
	fw, err := w.zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	return nil
}

// Close finalizes the archive and returns its bytes.
func (w *Writer) Close() ([]byte, error) {
	if w.closed {
		return w.buf.data, nil
	}
	w.closed = true
	if err := w.zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return w.buf.data, nil
}
