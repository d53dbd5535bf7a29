package restart

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/roach88/caps/internal/errs"
)

const (
	subdir       = "restart"
	fileSNum     = "sNum"
	fileAnalyses = "analyses"
	fileBounds   = "bounds"
	fileSnapshot = "problem.json"
	fileValues   = "values.json"

	// LinkMarker names the alias marker file.
	LinkMarker = "link"

	maxAliasDepth = 8
)

// Dir is a problem's restart directory.
type Dir struct {
	root   string
	target string // resolved alias root; empty when not an alias
}

// AnalysisLine is one entry of the analyses manifest.
type AnalysisLine struct {
	Inputs  int
	Outputs int
	Name    string
}

// BoundLine is one entry of the bounds manifest.
type BoundLine struct {
	Index int
	Name  string
}

// Open opens the restart directory of a problem root, following alias
// markers. The directory does not need to exist yet.
func Open(root string) (*Dir, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errs.New(errs.EmptyPayload, "restart root is required")
	}
	d := &Dir{root: root}
	cur := root
	for depth := 0; ; depth++ {
		next, ok, err := readMarker(cur)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if depth >= maxAliasDepth {
			return nil, errs.New(errs.CircularLink, "alias chain from %s does not end within %d links", root, maxAliasDepth)
		}
		cur = next
		d.target = cur
	}
	return d, nil
}

// Link marks root as a read-only alias of target.
func Link(root, target string) error {
	if err := ensureDirDurable(root, 0o755); err != nil {
		return fmt.Errorf("link %s: %w", root, err)
	}
	if err := writeFileAtomicDurable(filepath.Join(root, LinkMarker), []byte(target+"\n"), 0o644); err != nil {
		return fmt.Errorf("link %s: %w", root, err)
	}
	return nil
}

func readMarker(root string) (string, bool, error) {
	data, err := os.ReadFile(filepath.Join(root, LinkMarker))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read link marker: %w", err)
	}
	target := strings.TrimSpace(string(data))
	if target == "" {
		return "", false, errs.New(errs.EmptyPayload, "link marker in %s names no target", root)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	return target, true, nil
}

// Root returns the problem root the directory was opened with.
func (d *Dir) Root() string { return d.root }

// ReadOnly reports whether the directory is an alias.
func (d *Dir) ReadOnly() bool { return d.target != "" }

func (d *Dir) path(parts ...string) string {
	base := d.root
	if d.target != "" {
		base = d.target
	}
	return filepath.Join(append([]string{base, subdir}, parts...)...)
}

func (d *Dir) writable(what string) error {
	if d.ReadOnly() {
		return errs.New(errs.IllegalState, "write %s: %s is a link into %s", what, d.root, d.target)
	}
	return nil
}

// WriteSNum records the serial number.
func (d *Dir) WriteSNum(n int64) error {
	if err := d.writable(fileSNum); err != nil {
		return err
	}
	return d.write(fileSNum, []byte(strconv.FormatInt(n, 10)+"\n"))
}

// ReadSNum reads the recorded serial number.
func (d *Dir) ReadSNum() (int64, error) {
	data, err := d.read(fileSNum)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, errs.Wrap(errs.RangeError, err, "parse %s", fileSNum)
	}
	return n, nil
}

// WriteAnalyses writes the analyses manifest.
func (d *Dir) WriteAnalyses(lines []AnalysisLine) error {
	if err := d.writable(fileAnalyses); err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, l := range lines {
		if err := checkName(l.Name); err != nil {
			return err
		}
		fmt.Fprintf(&buf, "%d %d %s\n", l.Inputs, l.Outputs, l.Name)
	}
	return d.write(fileAnalyses, buf.Bytes())
}

// ReadAnalyses reads the analyses manifest.
func (d *Dir) ReadAnalyses() ([]AnalysisLine, error) {
	out := []AnalysisLine{}
	err := d.scan(fileAnalyses, 3, func(f []string) error {
		in, err1 := strconv.Atoi(f[0])
		o, err2 := strconv.Atoi(f[1])
		if err := errors.Join(err1, err2); err != nil {
			return err
		}
		out = append(out, AnalysisLine{Inputs: in, Outputs: o, Name: f[2]})
		return nil
	})
	return out, err
}

// WriteBounds writes the bounds manifest.
func (d *Dir) WriteBounds(lines []BoundLine) error {
	if err := d.writable(fileBounds); err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, l := range lines {
		fmt.Fprintf(&buf, "%d %s\n", l.Index, l.Name)
	}
	return d.write(fileBounds, buf.Bytes())
}

// ReadBounds reads the bounds manifest.
func (d *Dir) ReadBounds() ([]BoundLine, error) {
	out := []BoundLine{}
	err := d.scan(fileBounds, 2, func(f []string) error {
		idx, err := strconv.Atoi(f[0])
		if err != nil {
			return err
		}
		out = append(out, BoundLine{Index: idx, Name: f[1]})
		return nil
	})
	return out, err
}

// WriteSnapshot stores the entity graph snapshot.
func (d *Dir) WriteSnapshot(data []byte) error {
	if err := d.writable(fileSnapshot); err != nil {
		return err
	}
	return d.write(fileSnapshot, data)
}

// ReadSnapshot loads the entity graph snapshot.
func (d *Dir) ReadSnapshot() ([]byte, error) {
	return d.read(fileSnapshot)
}

// WriteDump stores the value dump of one analysis as indented JSON.
func (d *Dir) WriteDump(analysis string, v any) error {
	if err := d.writable(analysis); err != nil {
		return err
	}
	if err := checkName(analysis); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dump %s: %w", analysis, err)
	}
	return d.write(filepath.Join(analysis, fileValues), append(data, '\n'))
}

// ReadDump loads the value dump of one analysis. Unknown fields are rejected.
func (d *Dir) ReadDump(analysis string, v any) error {
	if err := checkName(analysis); err != nil {
		return err
	}
	data, err := d.read(filepath.Join(analysis, fileValues))
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode dump %s: %w", analysis, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("decode dump %s: trailing content", analysis)
	}
	return nil
}

func (d *Dir) write(name string, data []byte) error {
	path := d.path(name)
	if err := ensureDirDurable(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := writeFileAtomicDurable(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (d *Dir) read(name string) ([]byte, error) {
	data, err := os.ReadFile(d.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errs.Wrap(errs.NotFound, err, "restart file %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// scan reads a manifest, splitting each non-blank line into exactly n
// fields; the last field takes the rest of the line.
func (d *Dir) scan(name string, n int, fn func([]string) error) error {
	data, err := d.read(name)
	if err != nil {
		return err
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		f := strings.SplitN(text, " ", n)
		if len(f) != n {
			return errs.New(errs.RangeError, "%s line %d: want %d fields", name, line, n)
		}
		if err := fn(f); err != nil {
			return errs.Wrap(errs.RangeError, err, "%s line %d", name, line)
		}
	}
	return sc.Err()
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return errs.New(errs.RangeError, "%q is not usable as a restart entry name", name)
	}
	return nil
}
