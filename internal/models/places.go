package models

// Approximate city centres in Mali.
var MaliCities = map[string]Coord{
	"Bamako":     {Lat: 12.6392, Lon: -8.0029},
	"Kayes":      {Lat: 14.4469, Lon: -11.4445},
	"Ségou":      {Lat: 13.4317, Lon: -6.2157},
	"Mopti":      {Lat: 14.4843, Lon: -4.1828},
	"Sikasso":    {Lat: 11.3170, Lon: -5.6665},
	"Gao":        {Lat: 16.2667, Lon: -0.0500},
	"Tombouctou": {Lat: 16.7666, Lon: -3.0026},
}

// Approximate Bamako neighbourhood centre points.
var BamakoNeighborhoods = map[string]Coord{
	"ACI 2000":       {Lat: 12.6475, Lon: -7.9835},
	"Kalaban-Coura":  {Lat: 12.6100, Lon: -7.9660},
	"Badalabougou":   {Lat: 12.6290, Lon: -7.9900},
	"Hamdallaye":     {Lat: 12.6540, Lon: -7.9810},
	"Lafiabougou":    {Lat: 12.6520, Lon: -8.0100},
	"Magnambougou":   {Lat: 12.6250, Lon: -7.9500},
	"Sogoniko":       {Lat: 12.6100, Lon: -7.9500},
	"Baco-Djicoroni": {Lat: 12.6040, Lon: -8.0400},
	"Djélibougou":    {Lat: 12.6400, Lon: -7.9400},
}

// CityCenter falls back to Bamako for unknown cities.
func CityCenter(city string) Coord {
	if c, ok := MaliCities[city]; ok {
		return c
	}
	return MaliCities["Bamako"]
}
