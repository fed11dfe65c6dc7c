package config

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/tidwall/jsonc"
)

// ErrInvalidCatalog is returned when doors.json fails validation.
var ErrInvalidCatalog = errors.New("invalid doors configuration")

// MinDoorYear is the earliest release year accepted for a catalog entry.
const MinDoorYear = 1980

// DoorCategories is the fixed set of categories a catalog entry may use.
var DoorCategories = []string{
	"Action",
	"Adventure",
	"Card",
	"Casino",
	"Fantasy",
	"Puzzle",
	"RPG",
	"Simulation",
	"Space",
	"Sports",
	"Strategy",
	"Trivia",
	"Utility",
	"Word",
	"Other",
}

// DoorConfig defines a single entry in the door catalog.
type DoorConfig struct {
	Name           string `json:"name,omitempty"`
	Code           string `json:"code"`                     // Unique identifier used to launch the door
	DoorCmd        string `json:"doorCmd"`                  // Command run inside the emulator, or the native executable
	DropFileFormat string `json:"dropFileFormat"`           // "DoorSys", "DorInfo" or "DoorFileSR"
	DropFileDir    string `json:"dropFileDir,omitempty"`    // Relative to the drive path
	RemoveLockFile string `json:"removeLockFile,omitempty"` // Relative to the drive path, deleted before launch
	MultiNode      bool   `json:"multiNode,omitempty"`      // Use drive/nodes/node<N> as the drop file directory
	IsNative       bool   `json:"isNative,omitempty"`       // Run in a pty instead of the emulator
	GameTitle      string `json:"gameTitle"`
	Category       string `json:"category"`
	Year           int    `json:"year,omitempty"`
	Description    string `json:"description"`
}

// Title returns the display title, falling back to the name and code.
func (d DoorConfig) Title() string {
	switch {
	case d.GameTitle != "":
		return d.GameTitle
	case d.Name != "":
		return d.Name
	}
	return d.Code
}

// LoadDoors loads and validates the door catalog from filePath.
// A missing file is an empty catalog. Any parse or validation failure
// returns a nil slice together with the error.
func LoadDoors(filePath string) ([]DoorConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []DoorConfig{}, nil
		}
		return nil, errors.Wrapf(err, "failed to read doors file %s", filePath)
	}

	var doors []DoorConfig
	if err := json.Unmarshal(jsonc.ToJSON(data), &doors); err != nil {
		return nil, errors.Wrapf(ErrInvalidCatalog, "failed to unmarshal doors JSON from %s: %v", filePath, err)
	}
	if err := ValidateDoors(doors, time.Now().Year()); err != nil {
		return nil, errors.Wrapf(err, "%s", filePath)
	}
	return doors, nil
}

// ValidateDoors checks every entry against the catalog schema.
func ValidateDoors(doors []DoorConfig, currentYear int) error {
	seen := make(map[string]bool, len(doors))
	for i, d := range doors {
		missing := lo.Filter([]lo.Tuple2[string, string]{
			lo.T2("code", d.Code),
			lo.T2("doorCmd", d.DoorCmd),
			lo.T2("dropFileFormat", d.DropFileFormat),
			lo.T2("description", d.Description),
			lo.T2("category", d.Category),
			lo.T2("gameTitle", d.GameTitle),
		}, func(f lo.Tuple2[string, string], _ int) bool {
			return strings.TrimSpace(f.B) == ""
		})
		if len(missing) > 0 {
			return errors.Wrapf(ErrInvalidCatalog, "door %d: missing required field %q", i, missing[0].A)
		}
		key := strings.ToUpper(d.Code)
		if seen[key] {
			return errors.Wrapf(ErrInvalidCatalog, "duplicate door code %q", d.Code)
		}
		seen[key] = true
		if !lo.Contains(DoorCategories, d.Category) {
			return errors.Wrapf(ErrInvalidCatalog, "door %q: unknown category %q", d.Code, d.Category)
		}
		if d.Year != 0 && (d.Year < MinDoorYear || d.Year > currentYear) {
			return errors.Wrapf(ErrInvalidCatalog, "door %q: year %d outside %d-%d", d.Code, d.Year, MinDoorYear, currentYear)
		}
	}
	return nil
}

// Categories lists the distinct categories in first-seen order.
func Categories(doors []DoorConfig) []string {
	return lo.Uniq(lo.Map(doors, func(d DoorConfig, _ int) string {
		return d.Category
	}))
}

// InCategory returns the entries in category, preserving catalog order.
func InCategory(doors []DoorConfig, category string) []DoorConfig {
	return lo.Filter(doors, func(d DoorConfig, _ int) bool {
		return d.Category == category
	})
}

// Catalog is the live, reloadable set of doors.
type Catalog struct {
	mu    sync.RWMutex
	doors []DoorConfig
}

// NewCatalog returns a catalog holding doors.
func NewCatalog(doors []DoorConfig) *Catalog {
	c := &Catalog{}
	c.Replace(doors)
	return c
}

// LoadCatalog loads filePath into a catalog. Invalid configuration is
// logged and yields an empty catalog.
func LoadCatalog(filePath string) *Catalog {
	doors, err := LoadDoors(filePath)
	if err != nil {
		log.Printf("ERROR: Invalid doors configuration: %v", err)
		doors = nil
	}
	log.Printf("INFO: Loaded %d door(s) from %s", len(doors), filePath)
	return NewCatalog(doors)
}

// Reload re-reads filePath. On failure the catalog is emptied and the
// error returned.
func (c *Catalog) Reload(filePath string) error {
	doors, err := LoadDoors(filePath)
	c.Replace(doors)
	return err
}

// Replace swaps in a new set of doors.
func (c *Catalog) Replace(doors []DoorConfig) {
	cp := make([]DoorConfig, len(doors))
	copy(cp, doors)
	c.mu.Lock()
	c.doors = cp
	c.mu.Unlock()
}

// Doors returns a snapshot of the catalog in configured order.
func (c *Catalog) Doors() []DoorConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := make([]DoorConfig, len(c.doors))
	copy(cp, c.doors)
	return cp
}

// Find looks up a door by code, ignoring case.
func (c *Catalog) Find(code string) (DoorConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return lo.Find(c.doors, func(d DoorConfig) bool {
		return strings.EqualFold(d.Code, code)
	})
}

// Len returns the number of doors.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.doors)
}
