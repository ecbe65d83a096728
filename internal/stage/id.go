package stage

import (
	"fmt"
	"math/bits"
	"strings"
)

// ID identifies an image-characterization stage. The numeric order is the
// execution order and is fixed.
type ID uint8

const (
	Detect ID = iota
	Measure
	PSF
	ApCorr
	WCS
	WCSVerify
	PhotoCal

	numStages
)

var idNames = [numStages]string{
	Detect:    "detect",
	Measure:   "measure",
	PSF:       "psf",
	ApCorr:    "apcorr",
	WCS:       "wcs",
	WCSVerify: "wcs_verify",
	PhotoCal:  "photo_cal",
}

// String returns the config name of the stage (e.g. "wcs_verify").
func (id ID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("stage(%d)", uint8(id))
	}
	return idNames[id]
}

// Valid reports whether id is one of the declared stages.
func (id ID) Valid() bool {
	return id < numStages
}

// ParseID returns the stage whose config name is s. Matching ignores case
// and accepts "-" in place of "_".
func ParseID(s string) (ID, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, n := range idNames {
		if n == name {
			return ID(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", s)
}

// Mask is a set of stages.
type Mask uint8

const (
	None Mask = 0
	All  Mask = 1<<numStages - 1
)

// MaskOf returns the mask containing ids.
func MaskOf(ids ...ID) Mask {
	var m Mask
	for _, id := range ids {
		m = m.With(id)
	}
	return m
}

func (m Mask) Has(id ID) bool { return id.Valid() && m&(1<<id) != 0 }
func (m Mask) With(id ID) Mask { return m | 1<<id }
func (m Mask) Without(id ID) Mask { return m &^ (1 << id) }
func (m Mask) Union(o Mask) Mask { return m | o }
func (m Mask) Intersect(o Mask) Mask { return m & o }
func (m Mask) Minus(o Mask) Mask { return m &^ o }
func (m Mask) Empty() bool { return m&All == 0 }
func (m Mask) Len() int { return bits.OnesCount8(uint8(m & All)) }

// IDs returns the members of m in execution order.
func (m Mask) IDs() []ID {
	ids := make([]ID, 0, m.Len())
	for id := ID(0); id < numStages; id++ {
		if m.Has(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// String renders the mask as a comma-separated list of stage names, "all"
// for the full mask and "none" for the empty one.
func (m Mask) String() string {
	switch m & All {
	case All:
		return "all"
	case None:
		return "none"
	}
	names := make([]string, 0, m.Len())
	for _, id := range m.IDs() {
		names = append(names, id.String())
	}
	return strings.Join(names, ",")
}

// ParseMask parses a comma-separated list of stage names. "all" (or an
// empty string) selects every stage; "none" selects nothing.
func ParseMask(s string) (Mask, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "all":
		return All, nil
	case "none":
		return None, nil
	}
	var m Mask
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := ParseID(part)
		if err != nil {
			return None, err
		}
		m = m.With(id)
	}
	return m, nil
}

// MaskFromNames parses each name with ParseID and returns their union.
func MaskFromNames(names []string) (Mask, error) {
	var m Mask
	for _, n := range names {
		id, err := ParseID(n)
		if err != nil {
			return None, err
		}
		m = m.With(id)
	}
	return m, nil
}
