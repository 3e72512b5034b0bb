package yacht

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// MaxNotesLength is the longest note the API accepts on a position.
const MaxNotesLength = 140

// Image is a yacht photo.
type Image struct {
	URL string `json:"url"`
}

// Yacht is one record of the remote yacht index.
type Yacht struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	PreviousNames []string `json:"previous_names"`
	BuildYear     int      `json:"build_year"`
	Length        float64  `json:"length"`
	Builder       string   `json:"builder"`
	Images        []Image  `json:"images"`
}

// SearchPage is one page of search results.
type SearchPage struct {
	Yachts   []Yacht `json:"yachts"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
	HasMore  bool    `json:"has_more"`
}

// Position is a reported location of a yacht at a point in time.
type Position struct {
	ID       string    `json:"id"`
	YachtID  string    `json:"yacht_id"`
	DateTime time.Time `json:"date_time"`
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	Notes    string    `json:"notes,omitempty"`
}

// PositionInput is a new position to record. It is also the element type of
// bulk import files.
type PositionInput struct {
	YachtID  string    `json:"yacht_id" validate:"required"`
	DateTime time.Time `json:"date_time" validate:"required"`
	Lat      float64   `json:"lat" validate:"min=-90,max=90"`
	Lon      float64   `json:"lon" validate:"min=-180,max=180"`
	Notes    string    `json:"notes" validate:"max=140"`
}

// searchRequest and searchResponse follow the index's Elasticsearch layout.
type searchRequest struct {
	Query string `json:"query"`
	From  int    `json:"from"`
	Size  int    `json:"size"`
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source Yacht `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// wirePosition is the positions endpoint encoding: coordinates travel as
// decimal strings and ids may be numbers or strings.
type wirePosition struct {
	ID       flexString `json:"id,omitempty"`
	YachtID  flexString `json:"yacht_like_id,omitempty"`
	DateTime string     `json:"date_time"`
	Lat      flexString `json:"lat"`
	Lon      flexString `json:"lon"`
	Notes    string     `json:"notes"`
}

func (w wirePosition) position() (Position, error) {
	p := Position{
		ID:      string(w.ID),
		YachtID: string(w.YachtID),
		Notes:   w.Notes,
	}

	var err error
	if w.DateTime != "" {
		if p.DateTime, err = time.Parse(time.RFC3339, w.DateTime); err != nil {
			return Position{}, fmt.Errorf("parsing date_time %q: %w", w.DateTime, err)
		}
	}
	if p.Lat, err = strconv.ParseFloat(string(w.Lat), 64); err != nil {
		return Position{}, fmt.Errorf("parsing lat %q: %w", w.Lat, err)
	}
	if p.Lon, err = strconv.ParseFloat(string(w.Lon), 64); err != nil {
		return Position{}, fmt.Errorf("parsing lon %q: %w", w.Lon, err)
	}
	return p, nil
}

func newWirePosition(in PositionInput) wirePosition {
	return wirePosition{
		YachtID:  flexString(in.YachtID),
		DateTime: in.DateTime.UTC().Format(time.RFC3339),
		Lat:      flexString(strconv.FormatFloat(in.Lat, 'f', -1, 64)),
		Lon:      flexString(strconv.FormatFloat(in.Lon, 'f', -1, 64)),
		Notes:    in.Notes,
	}
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}
