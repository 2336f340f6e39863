package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/store"
)

// Reader serves one immutable segment. The dictionary and stored
// documents are loaded at open; postings are read on demand.
type Reader struct {
	file   *os.File
	name   string
	header SegmentHeader
	dict   []DictEntry
	docs   map[string]store.Document
}

func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := readSegment(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("segment %s: %w", filepath.Base(path), err)
	}
	r.name = filepath.Base(path)
	return r, nil
}

func readSegment(f *os.File) (*Reader, error) {
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported format version %d", header.Version)
	}
	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, header.DocsOffset+header.DocsSize); err != nil {
		return nil, fmt.Errorf("reading footer: %w", err)
	}

	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	if crc32.ChecksumIEEE(dictBytes) != binary.LittleEndian.Uint32(footer[0:4]) {
		return nil, fmt.Errorf("dictionary checksum mismatch")
	}
	var dict []DictEntry
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}

	docsBytes := make([]byte, header.DocsSize)
	if _, err := f.ReadAt(docsBytes, header.DocsOffset); err != nil {
		return nil, fmt.Errorf("reading documents: %w", err)
	}
	if crc32.ChecksumIEEE(docsBytes) != binary.LittleEndian.Uint32(footer[4:8]) {
		return nil, fmt.Errorf("documents checksum mismatch")
	}
	var docList []store.Document
	if err := json.Unmarshal(docsBytes, &docList); err != nil {
		return nil, fmt.Errorf("parsing documents: %w", err)
	}
	docs := make(map[string]store.Document, len(docList))
	for _, d := range docList {
		docs[d.ID] = d
	}
	return &Reader{file: f, header: header, dict: dict, docs: docs}, nil
}

// Search returns the postings of an exact index term.
func (r *Reader) Search(term string) (index.PostingList, error) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].Term >= term
	})
	if idx >= len(r.dict) || r.dict[idx].Term != term {
		return nil, nil
	}
	entry := r.dict[idx]
	postingsBytes := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(postingsBytes, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings: %w", err)
	}
	var postings index.PostingList
	if err := json.Unmarshal(postingsBytes, &postings); err != nil {
		return nil, fmt.Errorf("parsing postings: %w", err)
	}
	return postings, nil
}

func (r *Reader) Document(id string) (store.Document, bool) {
	d, ok := r.docs[id]
	return d, ok
}

func (r *Reader) Has(id string) bool {
	_, ok := r.docs[id]
	return ok
}

// DocIDs returns every stored id, sorted.
func (r *Reader) DocIDs() []string {
	ids := make([]string, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Reader) Name() string { return r.name }

func (r *Reader) Terms() int { return len(r.dict) }

func (r *Reader) DocCount() int { return len(r.docs) }

func (r *Reader) Close() error {
	return r.file.Close()
}
