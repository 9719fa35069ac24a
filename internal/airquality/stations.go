package airquality

// ValueSuffix is appended to every displayed reading.
const ValueSuffix = " µg/m³"

// validMarker is the validity flag of a usable hourly reading.
const validMarker = "V"

// stations is the allow-list of Madrid stations shown to users, keyed by
// province + municipality + 3-digit station code.
var stations = map[string]string{
	"28079001": "Pza. Recoletos",
	"28079003": "Pza. del Carmen",
	"28079004": "Pza. de España",
	"28079007": "Pza. M. de Salamanca",
	"28079008": "Escuelas Aguirre",
	"28079022": "Pº Pontones",
	"28079023": "Final C/ Alcalá",
	"28079026": "Urb. Embajada (Barajas)",
	"28079038": "Pza. Castilla",
	"28079039": "Plaza de Fdez. Ladreda",
	"28079040": "Cuatro Caminos",
	"28079047": "Méndez Álvaro",
	"28079048": "Pza. Castilla II",
	"28079049": "Arturo Soria",
	"28079050": "Barrio del Pilar",
	"28079054": "Ensanche Vallecas",
	"28079055": "Plaza Elíptica",
	"28079056": "Moratalaz",
	"28079057": "Pza. Fernández Ladreda II",
	"28079058": "Sanchinarro",
	"28079059": "Parque Juan Carlos I",
	"28079060": "Tres Olivos",
}

// pollutants maps MAGNITUD codes to display names.
var pollutants = map[string]string{
	"01": "SO₂ (Dióxido de Azufre)",
	"06": "CO (Monóxido de Carbono)",
	"07": "NO (Monóxido de Nitrógeno)",
	"08": "NO₂ (Dióxido de Nitrógeno)",
	"09": "PM2.5 (Partículas < 2.5 µm)",
	"10": "PM10 (Partículas < 10 µm)",
	"12": "NOx (Óxidos de Nitrógeno)",
	"14": "O₃ (Ozono)",
}

// StationName returns the display name of a full station code.
func StationName(code string) (string, bool) {
	name, ok := stations[code]
	return name, ok
}

// PollutantName returns the display name of a pollutant code. Unknown
// codes get a generic label carrying the raw code.
func PollutantName(code string) string {
	if name, ok := pollutants[code]; ok {
		return name
	}
	return "Magnitud " + code
}
