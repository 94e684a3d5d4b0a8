package zone

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/dnsscience/authcore/internal/journal"
)

// SaveJournal writes every RRset in z to path using internal/journal's
// portable serializer, one record per (owner, type) group. Each record
// is journal.Serialize's self-describing byte stream, which carries its
// own u64 total_length prefix, so records are simply concatenated and
// LoadJournal can walk the file by re-reading that prefix.
func SaveJournal(z *Zone, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("zone: SaveJournal: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, typeMap := range z.Records {
		for _, rrs := range typeMap {
			if len(rrs) == 0 {
				continue
			}
			set, err := ToRRset(rrs)
			if err != nil {
				return fmt.Errorf("zone: SaveJournal: %w", err)
			}
			rec, err := journal.Serialize(set)
			if err != nil {
				return fmt.Errorf("zone: SaveJournal: %w", err)
			}
			if _, err := w.Write(rec); err != nil {
				return fmt.Errorf("zone: SaveJournal: %w", err)
			}
		}
	}
	return w.Flush()
}

// LoadJournal reconstructs a Zone named originName from a file written by
// SaveJournal. The journal stream carries no zone-level metadata (SOA
// aside, which round-trips as an ordinary RRset like any other), so the
// origin has to be supplied by the caller the same way a zone file's
// $ORIGIN would.
func LoadJournal(path, originName string) (*Zone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("zone: LoadJournal: %w", err)
	}

	z := New(originName)
	pos := 0
	for pos < len(data) {
		if pos+8 > len(data) {
			return nil, fmt.Errorf("zone: LoadJournal: truncated record header at offset %d", pos)
		}
		total := binary.NativeEndian.Uint64(data[pos:])
		end := pos + 8 + int(total)
		if end > len(data) {
			return nil, fmt.Errorf("zone: LoadJournal: record at offset %d overruns file", pos)
		}

		set, err := journal.Deserialize(data[pos:end])
		if err != nil {
			return nil, fmt.Errorf("zone: LoadJournal: record at offset %d: %w", pos, err)
		}
		rrs, err := FromRRset(set)
		if err != nil {
			return nil, fmt.Errorf("zone: LoadJournal: record at offset %d: %w", pos, err)
		}
		for _, rr := range rrs {
			if err := z.AddRecord(rr); err != nil {
				return nil, fmt.Errorf("zone: LoadJournal: %w", err)
			}
		}
		pos = end
	}
	return z, nil
}
