package vectorizer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/hyperjump/osusume/pkg/utils"
)

// artifactVersion is the on-disk format version of the vectorizer artifact.
// Format: version (u32), term count (u32), then per term: name length (u32),
// name bytes, idf (f32). Little-endian throughout.
const artifactVersion = 1

// Save writes the vectorizer artifact to path via temp-file-and-rename.
// Only the full rebuild writes this artifact; incremental saves never do.
func (v *Vectorizer) Save(path string) error {
	return utils.WriteFileAtomic(path, func(w io.Writer) error {
		if err := binary.Write(w, binary.LittleEndian, uint32(artifactVersion)); err != nil {
			return fmt.Errorf("write version: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(v.terms))); err != nil {
			return fmt.Errorf("write term count: %w", err)
		}
		for i, term := range v.terms {
			b := []byte(term)
			if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
				return fmt.Errorf("write term len: %w", err)
			}
			if _, err := w.Write(b); err != nil {
				return fmt.Errorf("write term: %w", err)
			}
			if err := binary.Write(w, binary.LittleEndian, math.Float32bits(v.idf[i])); err != nil {
				return fmt.Errorf("write idf: %w", err)
			}
		}
		return nil
	})
}

// Load reads a vectorizer artifact from path.
func Load(path string) (*Vectorizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var version, count uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if version != artifactVersion {
		return nil, fmt.Errorf("unsupported vectorizer artifact version %d", version)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read term count: %w", err)
	}

	terms := make([]string, 0, count)
	idf := make([]float32, 0, count)
	for i := uint32(0); i < count; i++ {
		var nameLen uint32
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return nil, fmt.Errorf("read term len: %w", err)
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("read term: %w", err)
		}
		var bits uint32
		if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
			return nil, fmt.Errorf("read idf: %w", err)
		}
		terms = append(terms, string(name))
		idf = append(idf, math.Float32frombits(bits))
	}
	return New(terms, idf)
}
