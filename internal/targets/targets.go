// Package targets reads target lists for a batch.
package targets

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/batchscrape/internal/scrape"
)

// Stdin is the file name that selects standard input.
const Stdin = "-"

// Parse reads one target per line. Surrounding whitespace is trimmed; blank
// lines and lines starting with '#' are skipped. Order and duplicates are
// preserved.
func Parse(r io.Reader) ([]scrape.Target, error) {
	var out []scrape.Target
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, scrape.Target(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}
	return out, nil
}

// Load reads targets from path, or from stdin when path is Stdin.
func Load(path string, stdin io.Reader) ([]scrape.Target, error) {
	if path == Stdin {
		return Parse(stdin)
	}
	// #nosec G304 -- the targets file is chosen by the operator.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open targets file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Merge joins inline targets with file targets, inline first.
func Merge(inline []string, fromFile []scrape.Target) []scrape.Target {
	out := make([]scrape.Target, 0, len(inline)+len(fromFile))
	for _, s := range inline {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, scrape.Target(s))
		}
	}
	return append(out, fromFile...)
}
