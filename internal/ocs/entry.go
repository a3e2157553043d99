// Package ocs holds the data model shared by the scene core: entries that
// parameterize one object color solid, the render records fetched for them,
// cutting planes and the species database.
package ocs

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// MaxPeaks is the number of photoreceptor peaks an entry carries.
const MaxPeaks = 4

// DefaultEntryName is the display name given to new entries.
const DefaultEntryName = "New OCS"

// ErrInvalidEntry is returned when an entry fails validation.
var ErrInvalidEntry = errors.New("invalid entry")

var validate = validator.New()

// PigmentTemplate identifies the template function used to build the
// photoreceptor sensitivity curves.
type PigmentTemplate string

const (
	TemplateGovardovskii PigmentTemplate = "govardovskii"
	TemplateStavenga     PigmentTemplate = "stavenga"
	TemplateBaylor       PigmentTemplate = "baylor"
)

// ParsePigmentTemplate returns the template named s, or false if s is not a
// known template.
func ParsePigmentTemplate(s string) (PigmentTemplate, bool) {
	switch t := PigmentTemplate(s); t {
	case TemplateGovardovskii, TemplateStavenga, TemplateBaylor:
		return t, true
	}
	return "", false
}

// WavelengthBounds is the sampled wavelength range in nanometres.
type WavelengthBounds struct {
	Min float64 `json:"min" validate:"gte=300,ltfield=Max"`
	Max float64 `json:"max" validate:"lte=900"`
}

// Peak is one photoreceptor's peak sensitivity.
type Peak struct {
	Wavelength float64 `json:"wavelength" validate:"gte=0,lte=900"`
	Active     bool    `json:"active"`
}

// Entry is the parameter set describing one solid to request from the
// backend.
type Entry struct {
	Name             string           `json:"name" validate:"max=128"`
	Bounds           WavelengthBounds `json:"wavelengthBounds"`
	OmitBetaBand     bool             `json:"omitBetaBand"`
	IsMaxBasis       bool             `json:"isMaxBasis"`
	PigmentTemplate  PigmentTemplate  `json:"pigmentTemplate" validate:"oneof=govardovskii stavenga baylor"`
	SampleResolution int              `json:"wavelengthSampleResolution" validate:"gte=1,lte=100"`
	Peaks            [MaxPeaks]Peak   `json:"peaks" validate:"dive"`
	SelectedSpecies  *string          `json:"selectedSpecies"`
}

// DefaultEntry returns the entry created when the entry list is empty.
func DefaultEntry() Entry {
	return Entry{
		Name:             DefaultEntryName,
		Bounds:           WavelengthBounds{Min: 390, Max: 700},
		OmitBetaBand:     true,
		IsMaxBasis:       false,
		PigmentTemplate:  TemplateGovardovskii,
		SampleResolution: 20,
		Peaks: [MaxPeaks]Peak{
			{Wavelength: 455, Active: true},
			{Wavelength: 543, Active: true},
			{Wavelength: 566, Active: true},
			{Wavelength: 560, Active: false},
		},
	}
}

// Validate checks the entry's fields.
func (e Entry) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return nil
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	if e.SelectedSpecies != nil {
		s := *e.SelectedSpecies
		e.SelectedSpecies = &s
	}
	return e
}

// CloneEntries deep-copies an entry list.
func CloneEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}

// EncodeBatch encodes all entries positionally as entries[i][field]=value.
func EncodeBatch(entries []Entry) url.Values {
	q := url.Values{}
	for i, e := range entries {
		p := func(field string) string { return fmt.Sprintf("entries[%d][%s]", i, field) }
		q.Set(p("minWavelength"), formatFloat(e.Bounds.Min))
		q.Set(p("maxWavelength"), formatFloat(e.Bounds.Max))
		q.Set(p("omitBetaBand"), strconv.FormatBool(e.OmitBetaBand))
		q.Set(p("isMaxBasis"), strconv.FormatBool(e.IsMaxBasis))
		q.Set(p("pigmentTemplateFunction"), string(e.PigmentTemplate))
		q.Set(p("wavelengthSampleResolution"), strconv.Itoa(e.SampleResolution))
		for j, pk := range e.Peaks {
			q.Set(p(fmt.Sprintf("peakWavelength%d", j+1)), formatFloat(pk.Wavelength))
			q.Set(p(fmt.Sprintf("isCone%dActive", j+1)), strconv.FormatBool(pk.Active))
		}
	}
	return q
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
