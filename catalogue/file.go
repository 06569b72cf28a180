package catalogue

import (
	"bufio"
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/anacrolix/swarmcheck"
	"github.com/anacrolix/swarmcheck/types/infohash"
)

// What happened to the rows of a catalogue in an Apply.
type ApplyStats struct {
	Updated int
	Dropped int
	// Includes rows with Failed verdicts, and rows that weren't in the verdicts at all.
	Kept int
}

// The things a check needs from a catalogue.
type Store interface {
	// The key of every record, in storage order. May contain duplicates and junk.
	InfoHashes() ([]string, error)
	// Alive verdicts update counts and the scrape time. Dead verdicts remove the record. Failed
	// verdicts, and records with no verdict, are untouched.
	Apply(verdicts map[infohash.T]swarmcheck.Verdict, now time.Time) (ApplyStats, error)
	// Adds records whose infohash isn't already present. Returns how many were added.
	Append(records ...Record) (int, error)
}

type row struct {
	// Written back verbatim unless rec is replaced.
	line string
	rec  Record
	err  error
}

// A flat-file catalogue held in memory. Changes are only persisted by Save.
type File struct {
	Path   string
	header string
	rows   []row
	dirty  bool
}

var _ Store = (*File)(nil)

// Writes an empty catalogue at path, unless something is already there.
func Create(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(f, Header)
	closeErr := f.Close()
	if err != nil {
		return err
	}
	return closeErr
}

func Load(path string) (_ *File, err error) {
	osf, err := os.Open(path)
	if err != nil {
		return
	}
	defer osf.Close()
	f := &File{Path: path}
	s := bufio.NewScanner(osf)
	s.Buffer(nil, 1<<20)
	first := true
	for s.Scan() {
		line := strings.TrimSuffix(s.Text(), "\r")
		if first {
			f.header = line
			first = false
			continue
		}
		if line == "" {
			continue
		}
		rec, parseErr := ParseRecord(line)
		f.rows = append(f.rows, row{line: line, rec: rec, err: parseErr})
	}
	err = s.Err()
	if err != nil {
		err = fmt.Errorf("reading %q: %w", path, err)
		return
	}
	if f.header == "" {
		f.header = Header
	}
	return f, nil
}

func (f *File) Len() int {
	return len(f.rows)
}

// Records that parsed, in file order.
func (f *File) Records() (ret []Record) {
	for _, r := range f.rows {
		if r.err == nil {
			ret = append(ret, r.rec)
		}
	}
	return
}

func (f *File) InfoHashes() (ret []string, _ error) {
	ret = make([]string, 0, len(f.rows))
	for _, r := range f.rows {
		if r.err != nil {
			// Still give the planner something to skip, so inputs line up with rows.
			first, _, _ := strings.Cut(r.line, Separator)
			ret = append(ret, first)
			continue
		}
		ret = append(ret, r.rec.InfoHash)
	}
	return
}

func (f *File) Apply(verdicts map[infohash.T]swarmcheck.Verdict, now time.Time) (stats ApplyStats, _ error) {
	kept := f.rows[:0]
	for _, r := range f.rows {
		v, ok := verdictFor(r, verdicts)
		if !ok {
			stats.Kept++
			kept = append(kept, r)
			continue
		}
		switch v.Status {
		case swarmcheck.Dead:
			stats.Dropped++
			f.dirty = true
			continue
		case swarmcheck.Alive:
			r.rec = applyAlive(r.rec, v, now)
			r.line = r.rec.Line()
			stats.Updated++
			f.dirty = true
		default:
			stats.Kept++
		}
		kept = append(kept, r)
	}
	clear(f.rows[len(kept):])
	f.rows = kept
	return
}

func verdictFor(r row, verdicts map[infohash.T]swarmcheck.Verdict) (v swarmcheck.Verdict, ok bool) {
	if r.err != nil {
		return
	}
	ih, err := r.rec.Key()
	if err != nil {
		return
	}
	v, ok = verdicts[ih]
	return
}

func applyAlive(rec Record, v swarmcheck.Verdict, now time.Time) Record {
	rec.Seeders = v.Seeders
	rec.Leechers = v.Leechers
	rec.ScrapedDate = now.Unix()
	return rec
}

func (f *File) Append(records ...Record) (added int, err error) {
	have := make(map[string]struct{}, len(f.rows)+len(records))
	for _, r := range f.rows {
		first, _, _ := strings.Cut(r.line, Separator)
		have[strings.ToLower(strings.TrimSpace(first))] = struct{}{}
	}
	for _, rec := range records {
		ih, parseErr := rec.Key()
		if parseErr != nil {
			err = errors.Join(err, fmt.Errorf("record %q: %w", rec.Name, parseErr))
			continue
		}
		rec.InfoHash = ih.HexString()
		if _, ok := have[rec.InfoHash]; ok {
			continue
		}
		have[rec.InfoHash] = struct{}{}
		f.rows = append(f.rows, row{line: rec.Line(), rec: rec})
		f.dirty = true
		added++
	}
	return
}

// Whether there are changes Save hasn't written.
func (f *File) Dirty() bool {
	return f.dirty
}

// Replaces the file at Path atomically.
func (f *File) Save() (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), "."+filepath.Base(f.Path)+".*")
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	w := bufio.NewWriter(tmp)
	fmt.Fprintln(w, f.header)
	for _, r := range f.rows {
		fmt.Fprintln(w, r.line)
	}
	err = w.Flush()
	if err != nil {
		return
	}
	err = tmp.Chmod(0o644)
	if err != nil {
		return
	}
	err = tmp.Close()
	if err != nil {
		return
	}
	err = os.Rename(tmp.Name(), f.Path)
	if err != nil {
		return
	}
	f.dirty = false
	return
}

var partRegexp = regexp.MustCompile(`^torrents_part_(\d+)\.csv$`)

// Catalogue parts in dir, ordered by part number.
func FindParts(dir string) (ret []string, err error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	type part struct {
		n    uint64
		name string
	}
	var parts []part
	for _, de := range des {
		if de.IsDir() {
			continue
		}
		m := partRegexp.FindStringSubmatch(de.Name())
		if m == nil {
			continue
		}
		n, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		parts = append(parts, part{n, de.Name()})
	}
	slices.SortFunc(parts, func(a, b part) int {
		return cmp.Or(cmp.Compare(a.n, b.n), strings.Compare(a.name, b.name))
	})
	for _, p := range parts {
		ret = append(ret, filepath.Join(dir, p.name))
	}
	return
}

// The part with the highest number in dir, or torrents_part_1.csv there if there are none.
func LatestPart(dir string) (string, error) {
	parts, err := FindParts(dir)
	if err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return filepath.Join(dir, "torrents_part_1.csv"), nil
	}
	return parts[len(parts)-1], nil
}
