package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/kjstillabower/zappai-client/internal/models"
)

// ErrMalformed is wrapped by every payload check; the client maps it to a transport error.
var ErrMalformed = errors.New("malformed payload")

// ErrInvalidLocation is returned for create-location input that the backend would reject.
var ErrInvalidLocation = errors.New("invalid location")

// ErrNameEmpty is returned when a name or country is empty or whitespace-only after trim.
var ErrNameEmpty = errors.New("name is required")

// ErrNameTooLong is returned when a name or country exceeds MaxNameLength runes.
var ErrNameTooLong = errors.New("name too long")

// ErrNameInvalidChars is returned when a name or country contains disallowed characters.
var ErrNameInvalidChars = errors.New("name contains invalid characters")

// ErrLongitudeRange and ErrLatitudeRange report coordinates outside WGS84 bounds.
var (
	ErrLongitudeRange = errors.New("longitude must be between -180 and 180")
	ErrLatitudeRange  = errors.New("latitude must be between -90 and 90")
)

// MaxNameLength matches the backend column size.
const MaxNameLength = 255

// Session checks the identity returned by GET /api/auth/me.
func Session(s models.Session) error {
	if strings.TrimSpace(s.UserID) == "" {
		return fmt.Errorf("%w: session id is empty", ErrMalformed)
	}
	if strings.TrimSpace(s.Username) == "" {
		return fmt.Errorf("%w: session username is empty", ErrMalformed)
	}
	return nil
}

// AccessToken checks the token returned by POST /api/auth/.
func AccessToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: access_token is empty", ErrMalformed)
	}
	return nil
}

// Location checks one entity of a location listing.
func Location(l models.Location) error {
	if strings.TrimSpace(l.ID) == "" {
		return fmt.Errorf("%w: location id is empty", ErrMalformed)
	}
	if err := coordinates(l.Longitude, l.Latitude); err != nil {
		return fmt.Errorf("%w: location %s: %v", ErrMalformed, l.ID, err)
	}
	if m := l.LastPastClimateDataMonth; m != nil && (*m < 1 || *m > 12) {
		return fmt.Errorf("%w: location %s: month %d out of range", ErrMalformed, l.ID, *m)
	}
	if (l.LastPastClimateDataYear == nil) != (l.LastPastClimateDataMonth == nil) {
		return fmt.Errorf("%w: location %s: year and month must both be set or both be null", ErrMalformed, l.ID)
	}
	return nil
}

// Locations checks a full listing, including id uniqueness.
func Locations(list []models.Location) error {
	seen := make(map[string]struct{}, len(list))
	for _, l := range list {
		if err := Location(l); err != nil {
			return err
		}
		if _, dup := seen[l.ID]; dup {
			return fmt.Errorf("%w: duplicate location id %s", ErrMalformed, l.ID)
		}
		seen[l.ID] = struct{}{}
	}
	return nil
}

// Crops checks GET /api/crops.
func Crops(list []models.Crop) error {
	for i, c := range list {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("%w: crop %d has no name", ErrMalformed, i)
		}
	}
	return nil
}

// Predictions checks the month fields of GET /api/predictions; values are opaque.
func Predictions(p models.Predictions) error {
	for i, c := range p.BestCombinations {
		if !validMonth(c.SowingMonth) || !validMonth(c.HarvestMonth) {
			return fmt.Errorf("%w: combination %d has a month out of range", ErrMalformed, i)
		}
	}
	for i, f := range p.Forecast {
		if !validMonth(f.Month) {
			return fmt.Errorf("%w: forecast %d has a month out of range", ErrMalformed, i)
		}
	}
	return nil
}

// NewLocation trims country and name, enforces length and character rules and
// coordinate bounds. Returns the normalized body or an error wrapping ErrInvalidLocation.
func NewLocation(in models.NewLocation) (models.NewLocation, error) {
	country, err := name(in.Country)
	if err != nil {
		return models.NewLocation{}, fmt.Errorf("%w: country: %w", ErrInvalidLocation, err)
	}
	n, err := name(in.Name)
	if err != nil {
		return models.NewLocation{}, fmt.Errorf("%w: name: %w", ErrInvalidLocation, err)
	}
	if err := coordinates(in.Longitude, in.Latitude); err != nil {
		return models.NewLocation{}, fmt.Errorf("%w: %w", ErrInvalidLocation, err)
	}
	return models.NewLocation{Country: country, Name: n, Longitude: in.Longitude, Latitude: in.Latitude}, nil
}

func name(input string) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrNameEmpty
	}
	if len(r) > MaxNameLength {
		return "", ErrNameTooLong
	}
	for _, c := range r {
		if !isAllowedNameRune(c) {
			return "", ErrNameInvalidChars
		}
	}
	return s, nil
}

func coordinates(lon, lat float64) error {
	if lon < -180 || lon > 180 {
		return ErrLongitudeRange
	}
	if lat < -90 || lat > 90 {
		return ErrLatitudeRange
	}
	return nil
}

func validMonth(m int) bool {
	return m >= 1 && m <= 12
}

// isAllowedNameRune returns true for letters (Unicode), digits, space, comma, hyphen, period, apostrophe.
func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}
