package models

import "strings"

var stateAbbreviations = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR", "california": "CA",
	"colorado": "CO", "connecticut": "CT", "delaware": "DE", "district of columbia": "DC",
	"florida": "FL", "georgia": "GA", "hawaii": "HI", "idaho": "ID", "illinois": "IL",
	"indiana": "IN", "iowa": "IA", "kansas": "KS", "kentucky": "KY", "louisiana": "LA",
	"maine": "ME", "maryland": "MD", "massachusetts": "MA", "michigan": "MI", "minnesota": "MN",
	"mississippi": "MS", "missouri": "MO", "montana": "MT", "nebraska": "NE", "nevada": "NV",
	"new hampshire": "NH", "new jersey": "NJ", "new mexico": "NM", "new york": "NY",
	"north carolina": "NC", "north dakota": "ND", "ohio": "OH", "oklahoma": "OK", "oregon": "OR",
	"pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC", "south dakota": "SD",
	"tennessee": "TN", "texas": "TX", "utah": "UT", "vermont": "VT", "virginia": "VA",
	"washington": "WA", "west virginia": "WV", "wisconsin": "WI", "wyoming": "WY",
	"puerto rico": "PR", "virgin islands": "VI", "guam": "GU", "country of mexico": "MX",
}

// StateAbbreviation maps a state name to its USPS code.
// Unknown names are returned unchanged.
func StateAbbreviation(state string) string {
	if abbr, ok := stateAbbreviations[strings.ToLower(strings.TrimSpace(state))]; ok {
		return abbr
	}
	return state
}

type pollutantInfo struct {
	name string
	unit string
}

// AQS parameter codes seen in the shapelet exports
var pollutantCatalog = map[string]pollutantInfo{
	"42101": {"Carbon monoxide", "Parts per million"},
	"42401": {"Sulfur dioxide", "Parts per billion"},
	"42602": {"Nitrogen dioxide (NO2)", "Parts per billion"},
	"44201": {"Ozone", "Parts per million"},
	"81102": {"PM10 Total 0-10um STP", "Micrograms/cubic meter (25 C)"},
	"88101": {"PM2.5 - Local Conditions", "Micrograms/cubic meter (LC)"},
	"88502": {"Acceptable PM2.5 AQI & Speciation Mass", "Micrograms/cubic meter (LC)"},
}

// LookupPollutant returns the catalog row for a parameter code.
// Unknown codes get a row with null name and unit.
func LookupPollutant(code string) Pollutant {
	p := Pollutant{ParameterCode: code}
	if info, ok := pollutantCatalog[code]; ok {
		name, unit := info.name, info.unit
		p.Name = &name
		p.Unit = &unit
	}
	return p
}
