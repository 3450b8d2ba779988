package directory

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"lpr-gate-service/internal/utils"
)

// Directory is the immutable set of registered plates, loaded once at
// startup from a line-oriented file. Reloading requires a restart.
type Directory struct {
	// normalized -> plate as listed in the source file
	plates     []string
	normalized []string
}

// Load reads one plate per line, skipping blank lines, and pre-normalizes
// every entry. It fails if the file cannot be read or yields no plates; the
// service must not run with an empty directory and treat every vehicle as
// unregistered.
func Load(path string) (*Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open registered plates file: %w", err)
	}
	defer f.Close()

	d := &Directory{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		norm := utils.NormalizePlate(line)
		if norm == "" {
			continue
		}
		d.plates = append(d.plates, line)
		d.normalized = append(d.normalized, norm)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read registered plates file: %w", err)
	}
	if len(d.plates) == 0 {
		return nil, fmt.Errorf("registered plates file %s contains no plates", path)
	}
	return d, nil
}

// Size returns the number of registered plates.
func (d *Directory) Size() int {
	return len(d.plates)
}

// IsRegistered normalizes the input once and compares it against every
// registered plate at the given edit-distance threshold. The first match in
// stored order wins; a match only means "is registered", not which specific
// plate, so no secondary ranking is applied. An unreadable plate never
// matches.
func (d *Directory) IsRegistered(plateNumber string, maxDistance int) (bool, string) {
	norm := utils.NormalizePlate(plateNumber)
	if norm == "" {
		return false, ""
	}
	for i, reg := range d.normalized {
		if utils.PlatesMatch(reg, norm, maxDistance) {
			return true, d.plates[i]
		}
	}
	return false, ""
}
