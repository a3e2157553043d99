package ocs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Species is one record of the spectral database.
type Species struct {
	CommonName     string    `json:"commonName"`
	ScientificName string    `json:"scientificName"`
	Phylum         string    `json:"phylum"`
	Class          string    `json:"class"`
	Order          string    `json:"order"`
	Template       string    `json:"pigmentTemplateFunction"`
	Chromophores   string    `json:"chromophores"`
	Peaks          []float64 `json:"peaks"`
	Source         string    `json:"source"`
	Note           string    `json:"note"`
}

// SpectralDB maps a species' common name to its record.
type SpectralDB map[string]Species

// Names returns the species keys in sorted order.
func (db SpectralDB) Names() []string {
	names := make([]string, 0, len(db))
	for k := range db {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

type speciesWire struct {
	CommonName     string     `json:"common_name"`
	ScientificName string     `json:"scientific_name"`
	Phylum         string     `json:"phylum"`
	Class          string     `json:"class"`
	Order          string     `json:"order"`
	Template       string     `json:"template"`
	Chromophores   string     `json:"chromophores"`
	Peaks          []*float64 `json:"lambda_max_values"`
	Source         string     `json:"source"`
	Note           string     `json:"note"`
}

// DecodeSpectralDB decodes a /get_spectral_db response body of the form
// {"data": [...]}. Items that are not objects are skipped and null peaks
// are dropped.
func DecodeSpectralDB(body []byte) (SpectralDB, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode spectral db: %w", err)
	}
	if !bytes.HasPrefix(bytes.TrimSpace(envelope.Data), []byte("[")) {
		return nil, errors.New(`decode spectral db: expected an array in "data"`)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(envelope.Data, &items); err != nil {
		return nil, fmt.Errorf("decode spectral db: %w", err)
	}

	db := make(SpectralDB, len(items))
	for i, raw := range items {
		if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
			continue
		}
		var w speciesWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("decode spectral db item %d: %w", i, err)
		}
		peaks := make([]float64, 0, len(w.Peaks))
		for _, p := range w.Peaks {
			if p != nil {
				peaks = append(peaks, *p)
			}
		}
		db[w.CommonName] = Species{
			CommonName:     w.CommonName,
			ScientificName: w.ScientificName,
			Phylum:         w.Phylum,
			Class:          w.Class,
			Order:          w.Order,
			Template:       w.Template,
			Chromophores:   w.Chromophores,
			Peaks:          peaks,
			Source:         w.Source,
			Note:           w.Note,
		}
	}
	return db, nil
}

// ApplySpecies prefills the entry's peaks from a species record. Missing
// peaks become 0 and a cone is active iff its peak is non-zero. The entry
// takes the species key as its name.
func (e *Entry) ApplySpecies(key string, sp Species) {
	for i := range e.Peaks {
		var w float64
		if i < len(sp.Peaks) {
			w = sp.Peaks[i]
		}
		e.Peaks[i] = Peak{Wavelength: w, Active: w != 0}
	}
	if t, ok := ParsePigmentTemplate(sp.Template); ok {
		e.PigmentTemplate = t
	}
	k := key
	e.SelectedSpecies = &k
	e.Name = key
}
