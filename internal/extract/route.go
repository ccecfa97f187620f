package extract

import "net/url"

// Location is the parsed current-location snapshot.
type Location struct {
	Domain      string
	Route       string
	QueryParams map[string]string
}

// ParseLocation splits an href into domain, path and a flat query map.
// It never fails: unparseable input degrades to an empty location with an
// empty (non-nil) query map, and repeated query keys keep the first value.
func ParseLocation(href string) Location {
	loc := Location{Route: "/", QueryParams: map[string]string{}}
	u, err := url.Parse(href)
	if err != nil {
		return loc
	}
	loc.Domain = u.Host
	if u.Path != "" {
		loc.Route = u.Path
	}
	for key, vals := range u.Query() {
		if _, dup := loc.QueryParams[key]; dup {
			continue
		}
		if len(vals) > 0 {
			loc.QueryParams[key] = vals[0]
		} else {
			loc.QueryParams[key] = ""
		}
	}
	return loc
}
