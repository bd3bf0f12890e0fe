package alerts

var worldNames = map[string]string{
	"1":  "Connery",
	"10": "Miller",
	"13": "Cobalt",
	"17": "Emerald",
	"19": "Jaeger",
	"40": "SolTech",
}

var zoneNames = map[string]string{
	"2":   "Indar",
	"4":   "Hossin",
	"6":   "Amerish",
	"8":   "Esamir",
	"344": "Oshur",
}

var vehicleNames = map[string]string{
	"1":    "Flash",
	"2":    "Sunderer",
	"3":    "Lightning",
	"4":    "Magrider",
	"5":    "Vanguard",
	"6":    "Prowler",
	"7":    "Scythe",
	"8":    "Reaver",
	"9":    "Mosquito",
	"10":   "Liberator",
	"11":   "Galaxy",
	"12":   "Harasser",
	"14":   "Valkyrie",
	"15":   "ANT",
	"2007": "Colossus",
	"2019": "Bastion",
	"2122": "Chimera",
	"2125": "Javelin",
	"2136": "Dervish",
}

func worldName(id string) string { return named(worldNames, id, "world ") }
func zoneName(id string) string { return named(zoneNames, id, "zone ") }
func vehicleName(id string) string { return named(vehicleNames, id, "vehicle ") }

func named(m map[string]string, id, prefix string) string {
	if n, ok := m[id]; ok {
		return n
	}
	return prefix + id
}
