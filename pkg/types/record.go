// Package types provides core data types for the enrollment dashboard.
package types

// Column names of the enrollment spreadsheet.
const (
	ColDepartment       = "Departamento Deportista"
	ColMunicipality     = "Municipio Deportista"
	ColZone             = "Zona"
	ColGender           = "Género"
	ColSport            = "Deporte"
	ColSportType        = "tipo deporte"
	ColInstitution      = "Nombre Institución"
	ColRegistrationDate = "Fecha de Registro"
)

// RequiredColumns lists the columns every non-empty enrollment sheet must carry.
var RequiredColumns = []string{
	ColDepartment,
	ColMunicipality,
	ColZone,
	ColGender,
	ColSport,
	ColSportType,
	ColInstitution,
	ColRegistrationDate,
}

// Sport types after normalization (trimmed, lowercase).
const (
	SportTypeTeam       = "conjunto"
	SportTypeIndividual = "individual"
	SportTypePara       = "para deporte"
)

// SportTypes is the default ordered list of sport types shown on the dashboard.
var SportTypes = []string{SportTypeTeam, SportTypeIndividual, SportTypePara}

// Zone values, compared lowercase.
const (
	ZoneRural = "rural"
	ZoneUrban = "urbano"
)

// Gender values as they appear in the sheet.
const (
	GenderMale   = "Hombre"
	GenderFemale = "Mujer"
)
