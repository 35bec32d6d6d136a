package model

// CRM city list codes and their display names. The cache stores the
// name; translation happens once, when a deal is written.
var cityNames = map[string]string{
	"257": "Караганда",
	"259": "Темиртау",
	"889": "Материал от клиента",
}

// CityName translates a CRM city list code. Unknown codes pass through
// unchanged so a new list value does not silently blank the field.
func CityName(code string) string {
	if name, ok := cityNames[code]; ok {
		return name
	}
	return code
}
