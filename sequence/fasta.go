package sequence

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Record is one FASTA entry. Weight defaults to 1 and is read from a
// "weight=<float>" token in the header line when present.
type Record struct {
	Sequence Sequence
	Weight   float64
}

// ReadFASTA parses FASTA records over alphabet a.
// Lines starting with ';' are comments. Sequence lines may wrap.
func ReadFASTA(r io.Reader, a *Alphabet) ([]Record, error) {
	var (
		records []Record
		id      string
		weight  float64
		body    strings.Builder
		open    bool
		lineNum int
	)
	flush := func() error {
		if !open {
			return nil
		}
		s, err := New(a, id, body.String())
		if err != nil {
			return err
		}
		records = append(records, Record{Sequence: s, Weight: weight})
		body.Reset()
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, ">") {
			if err := flush(); err != nil {
				return nil, err
			}
			header := strings.Fields(line[1:])
			id, weight, open = "", 1, true
			for i, f := range header {
				if i == 0 {
					id = f
					continue
				}
				if v, ok := strings.CutPrefix(f, "weight="); ok {
					w, err := strconv.ParseFloat(v, 64)
					if err != nil {
						return nil, fmt.Errorf("line %d: weight: %w", lineNum, err)
					}
					weight = w
				}
			}
			continue
		}
		if !open {
			return nil, fmt.Errorf("line %d: sequence data before first header", lineNum)
		}
		body.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return records, nil
}

// ReadFASTAFile is a convenience wrapper that opens a file path.
func ReadFASTAFile(path string, a *Alphabet) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadFASTA(f, a)
}
